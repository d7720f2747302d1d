package pipeline

// State 是一次请求在流水线中的位置。
type State string

const (
	StateReceived         State = "RECEIVED"
	StateInjectionCheck   State = "INJECTION_CHECK"
	StateFirewallCheck    State = "FIREWALL_CHECK"
	StateRoute            State = "ROUTE"
	StateChatGen          State = "CHAT_GEN"
	StateRewrite          State = "REWRITE"
	StateSanitizeAdvisory State = "SANITIZE_ADVISORY"
	StateRetrieve         State = "RETRIEVE"
	StateRAGGen           State = "RAG_GEN"
	StateRecord           State = "RECORD"
	StateReturned         State = "RETURNED"
	StateBlocked          State = "BLOCKED"
)

// Terminal 报告是否为终止状态。
func (s State) Terminal() bool {
	return s == StateReturned || s == StateBlocked
}

// Observer 接收每一次状态迁移，必须快速返回。
type Observer func(State)

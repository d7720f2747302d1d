package guard

// Action 是护栏阶段的判定结果。
type Action string

const (
	Allow Action = "ALLOW"
	Block Action = "BLOCK"
)

// Stage 标识做出判定的护栏阶段。
type Stage string

const (
	StageInjection Stage = "injection"
	StageFirewall  Stage = "firewall"
	StageEntity    Stage = "entity"
)

// Decision 是单个护栏阶段的瞬时判定，不会被持久化。
// Reason 只用于日志与指标，不会返回给用户。
type Decision struct {
	Action Action
	Stage  Stage
	Reason string
}

// Blocked 报告该判定是否拦截请求。
func (d Decision) Blocked() bool {
	return d.Action == Block
}

// Allowed 构造放行判定。
func Allowed(stage Stage, reason string) Decision {
	return Decision{Action: Allow, Stage: stage, Reason: reason}
}

// Blocking 构造拦截判定。
func Blocking(stage Stage, reason string) Decision {
	return Decision{Action: Block, Stage: stage, Reason: reason}
}

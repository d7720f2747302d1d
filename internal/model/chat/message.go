package chat

import "strings"

// Role 标识一条对话记录的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 是会话中的一条记录，追加后不可修改。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn 构造一条用户记录。
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn 构造一条助手记录。
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// LastN 返回末尾最多 n 条记录的副本。
func LastN(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) == 0 {
		return nil
	}
	start := len(turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// FormatTranscript 将记录渲染为 "User: ..." / "Assistant: ..." 文本，供分类类提示词嵌入。
func FormatTranscript(turns []Turn) string {
	var builder strings.Builder
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		if turn.Role == RoleAssistant {
			builder.WriteString("Assistant: ")
		} else {
			builder.WriteString("User: ")
		}
		builder.WriteString(content)
	}
	return builder.String()
}

package chat

import "time"

// DefaultSessionID 是允许共享默认会话时使用的键。
const DefaultSessionID = "default"

// Session 是一个会话键及其有序记录的快照。
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

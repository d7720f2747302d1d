package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/securag/securag/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrLockTimeout     = errors.New("timed out waiting for session lock")
)

// Store 保存按会话键组织的有序对话记录。
type Store interface {
	// History 返回会话的全部记录副本，会话不存在时返回空切片。
	History(ctx context.Context, sessionID string) ([]chat.Turn, error)
	// Append 追加记录，会话不存在时创建。
	Append(ctx context.Context, sessionID string, turns ...chat.Turn) error
	// Reset 删除会话。
	Reset(ctx context.Context, sessionID string) error
}

// Options 控制会话键的解析。
type Options struct {
	// AllowSharedDefault 为 true 时空会话键映射到共享的 default 会话。
	AllowSharedDefault bool
}

// Service 负责会话记忆与同会话请求的串行化。
type Service struct {
	store Store
	locks *Locks
	opts  Options
}

// NewService 组装会话服务。
func NewService(store Store, opts Options) *Service {
	return &Service{
		store: store,
		locks: NewLocks(),
		opts:  opts,
	}
}

// ResolveSessionID 校验并规范化会话键。
func (s *Service) ResolveSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		return sessionID, nil
	}
	if s.opts.AllowSharedDefault {
		return chat.DefaultSessionID, nil
	}
	return "", ErrSessionRequired
}

// Acquire 获取会话的单写锁，在整个请求期间持有。
func (s *Service) Acquire(ctx context.Context, sessionID string) (func(), error) {
	return s.locks.Lock(ctx, sessionID)
}

// History 返回会话记录。
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	turns, err := s.store.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return turns, nil
}

// Record 在一次成功生成后追加用户与助手两条记录。
func (s *Service) Record(ctx context.Context, sessionID, query, answer string) error {
	if err := s.store.Append(ctx, sessionID, chat.UserTurn(query), chat.AssistantTurn(answer)); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Reset 清空会话。
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := s.store.Reset(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/securag/securag/internal/model/chat"
)

const redisKeyPrefix = "securag:session:"

// RedisStore 把每个会话存为一个 Redis 列表，元素为 JSON 编码的记录。
type RedisStore struct {
	client   redis.UniversalClient
	ttl      time.Duration
	maxTurns int
}

// NewRedisClient 解析 URL 并检查连通性。也接受不带协议的 host:port。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redisOptions(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func redisOptions(url string) (*redis.Options, error) {
	opt, err := redis.ParseURL(url)
	if err == nil {
		return opt, nil
	}
	if !strings.Contains(url, "://") {
		if _, _, splitErr := net.SplitHostPort(url); splitErr == nil {
			return &redis.Options{Addr: url}, nil
		}
	}
	return nil, fmt.Errorf("parse redis url: %w", err)
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, maxTurns int) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 100
	}
	return &RedisStore{client: client, ttl: ttl, maxTurns: maxTurns}
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// History 读取整个列表并刷新过期时间。
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	key := sessionKey(sessionID)

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	if len(raw) == 0 {
		return []chat.Turn{}, nil
	}

	turns := make([]chat.Turn, 0, len(raw))
	for _, item := range raw {
		var turn chat.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("expire %s: %w", key, err)
	}
	return turns, nil
}

// Append 在一个事务中追加、截断并刷新过期时间。
func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		values = append(values, string(data))
	}

	key := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

// Reset 删除会话列表。
func (s *RedisStore) Reset(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("del session: %w", err)
	}
	return nil
}

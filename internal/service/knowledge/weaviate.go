package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"
)

const contentProperty = "content"

// WeaviateStore 使用服务端向量化模块，检索走 nearText。
type WeaviateStore struct {
	client     *weaviate.Client
	class      string
	vectorizer string
	logger     *zap.Logger
}

// WeaviateOptions 描述 Weaviate 连接与类定义。
type WeaviateOptions struct {
	URL        string
	Class      string
	Vectorizer string
}

// NewWeaviateStore 连接 Weaviate 并确保类存在。
func NewWeaviateStore(ctx context.Context, opts WeaviateOptions, logger *zap.Logger) (*WeaviateStore, error) {
	cfg := weaviate.Config{Host: opts.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(opts.URL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(opts.URL, "https://")
	case strings.HasPrefix(opts.URL, "http://"):
		cfg.Host = strings.TrimPrefix(opts.URL, "http://")
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	store := &WeaviateStore{
		client:     client,
		class:      opts.Class,
		vectorizer: opts.Vectorizer,
		logger:     logger.Named("weaviate"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// EnsureSchema 在类不存在时创建，重复调用无副作用。
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: check class %s: %v", ErrUnavailable, s.class, err)
	}
	if exists {
		return nil
	}

	vectorizer := s.vectorizer
	if vectorizer == "" {
		vectorizer = "text2vec-transformers"
	}
	class := &models.Class{
		Class:       s.class,
		Description: "Sanitized knowledge chunks",
		Vectorizer:  vectorizer,
		Properties: []*models.Property{
			{
				Name:         contentProperty,
				DataType:     []string{"text"},
				Description:  "Sanitized chunk text",
				Tokenization: "word",
			},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.logger.Info("created weaviate class", zap.String("class", s.class), zap.String("vectorizer", vectorizer))
	return nil
}

// Add 批量导入，对象 ID 由内容派生，重复内容覆盖同一对象。
func (s *WeaviateStore) Add(ctx context.Context, texts ...string) ([]string, error) {
	texts = nonEmpty(texts)
	if len(texts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(texts))
	objects := make([]*models.Object, len(texts))
	for i, text := range texts {
		ids[i] = ChunkID(text)
		objects[i] = &models.Object{
			Class:      s.class,
			ID:         strfmt.UUID(ids[i]),
			Properties: map[string]interface{}{contentProperty: text},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch import: %w", err)
	}

	failed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		failed++
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				s.logger.Warn("weaviate batch item failed", zap.String("error", e.Message))
			}
		}
	}
	if failed > 0 {
		return ids, fmt.Errorf("batch import: %d of %d objects failed", failed, len(objects))
	}
	return ids, nil
}

// Query 以 nearText 检索 k 个片段。
func (s *WeaviateStore) Query(ctx context.Context, text string, k int) (Result, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return Result{}, nil
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{text})
	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(
			graphql.Field{Name: contentProperty},
			graphql.Field{Name: "_additional { id }"},
		).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("near text query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return Result{}, fmt.Errorf("near text query: %s", resp.Errors[0].Message)
	}

	return parseGetResult(resp.Data, s.class), nil
}

// Count 通过 Aggregate 的 meta.count 统计对象数量。
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("aggregate query: %s", resp.Errors[0].Message)
	}
	return parseAggregateCount(resp.Data, s.class), nil
}

func parseGetResult(data map[string]models.JSONObject, class string) Result {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return Result{}
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return Result{}
	}

	result := Result{Chunks: make([]Chunk, 0, len(items))}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := obj[contentProperty].(string)
		if content == "" {
			continue
		}
		chunk := Chunk{Text: content}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			chunk.ID, _ = additional["id"].(string)
		}
		if chunk.ID == "" {
			chunk.ID = ChunkID(content)
		}
		result.Chunks = append(result.Chunks, chunk)
	}
	return result
}

func parseAggregateCount(data map[string]models.JSONObject, class string) int {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	groups, ok := agg[class].([]interface{})
	if !ok || len(groups) == 0 {
		return 0
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := meta["count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

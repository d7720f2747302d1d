package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type chunkRecord struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Content   string          `gorm:"type:text;not null"`
	Embedding pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (chunkRecord) TableName() string {
	return "knowledge_chunks"
}

// PGVectorStore 把片段与向量存入 Postgres，按余弦距离检索。
type PGVectorStore struct {
	db         *gorm.DB
	embedder   Embedder
	dimensions int
	logger     *zap.Logger
}

// OpenPostgres 打开数据库连接并完成迁移。
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrUnavailable, err)
	}

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector;").Error; err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&chunkRecord{}); err != nil {
		return nil, fmt.Errorf("migrate knowledge_chunks: %w", err)
	}
	return db, nil
}

// NewPGVectorStore 创建 pgvector 知识库。
func NewPGVectorStore(db *gorm.DB, embedder Embedder, dimensions int, logger *zap.Logger) *PGVectorStore {
	return &PGVectorStore{
		db:         db,
		embedder:   embedder,
		dimensions: dimensions,
		logger:     logger.Named("pgvector"),
	}
}

// Add 生成向量后写入，主键冲突时忽略，相同内容只保留一份。
func (s *PGVectorStore) Add(ctx context.Context, texts ...string) ([]string, error) {
	texts = nonEmpty(texts)
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
	}

	ids := make([]string, len(texts))
	records := make([]chunkRecord, 0, len(texts))
	seen := make(map[string]struct{}, len(texts))
	for i, text := range texts {
		if err := s.checkDimensions(vectors[i]); err != nil {
			return nil, err
		}
		ids[i] = ChunkID(text)
		if _, dup := seen[ids[i]]; dup {
			continue
		}
		seen[ids[i]] = struct{}{}
		records = append(records, chunkRecord{
			ID:        uuid.MustParse(ids[i]),
			Content:   text,
			Embedding: pgvector.NewVector(vectors[i]),
		})
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	return ids, nil
}

// Query 用 <=> 余弦距离取最近的 k 个片段。
func (s *PGVectorStore) Query(ctx context.Context, text string, k int) (Result, error) {
	if k <= 0 {
		return Result{}, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return Result{}, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	if err := s.checkDimensions(vectors[0]); err != nil {
		return Result{}, err
	}

	var records []chunkRecord
	err = s.db.WithContext(ctx).
		Order(gorm.Expr("embedding <=> ?", pgvector.NewVector(vectors[0]))).
		Limit(k).
		Find(&records).Error
	if err != nil {
		return Result{}, fmt.Errorf("similarity search: %w", err)
	}

	result := Result{Chunks: make([]Chunk, 0, len(records))}
	for _, r := range records {
		result.Chunks = append(result.Chunks, Chunk{ID: r.ID.String(), Text: r.Content})
	}
	return result, nil
}

// Count 返回片段数量。
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&chunkRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(n), nil
}

func (s *PGVectorStore) checkDimensions(vec []float32) error {
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), s.dimensions)
	}
	return nil
}

package knowledge

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrUnavailable 表示向量库后端不可用。
var ErrUnavailable = errors.New("knowledge store unavailable")

// chunkNamespace 是内容派生 ID 的固定命名空间。
var chunkNamespace = uuid.MustParse("6f1c9a52-3f0e-5d8b-9a1e-2c7d4b8e0f13")

// Chunk 是知识库中持久化的最小单元，入库后不可修改。
type Chunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Result 是一次检索的结果，按相似度排序，不带分数。
type Result struct {
	Chunks []Chunk `json:"chunks"`
}

// Empty 报告是否没有检索到任何片段。
func (r Result) Empty() bool {
	return len(r.Chunks) == 0
}

// Texts 返回片段文本。
func (r Result) Texts() []string {
	texts := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		texts = append(texts, c.Text)
	}
	return texts
}

// Store 是向量检索后端的适配接口。
// 空结果是合法结果，与错误严格区分。
type Store interface {
	Query(ctx context.Context, text string, k int) (Result, error)
	// Add 写入已脱敏的文本，返回内容派生的 ID；相同文本得到相同 ID。
	Add(ctx context.Context, texts ...string) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// ChunkID 根据文本内容生成确定性的 UUIDv5。
func ChunkID(text string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(text)).String()
}

// SplitParagraphs 以空行切分文档，丢弃空段落。
func SplitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var (
		chunks  []string
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return chunks
}

func nonEmpty(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

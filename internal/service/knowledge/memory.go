package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryStore 是进程内的词法重叠检索，用于开发与测试。
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []memoryChunk
	index  map[string]int
}

type memoryChunk struct {
	Chunk
	terms map[string]struct{}
}

// NewMemoryStore 创建空的进程内知识库。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Add 写入文本，相同内容只保留一份。
func (s *MemoryStore) Add(_ context.Context, texts ...string) ([]string, error) {
	texts = nonEmpty(texts)
	ids := make([]string, 0, len(texts))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, text := range texts {
		id := ChunkID(text)
		ids = append(ids, id)
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = len(s.chunks)
		s.chunks = append(s.chunks, memoryChunk{
			Chunk: Chunk{ID: id, Text: text},
			terms: terms(text),
		})
	}
	return ids, nil
}

// Query 按共享词项数量排序，只返回至少共享一个词项的片段。
func (s *MemoryStore) Query(_ context.Context, text string, k int) (Result, error) {
	if k <= 0 {
		return Result{}, nil
	}
	queryTerms := terms(text)
	if len(queryTerms) == 0 {
		return Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		pos   int
		score int
	}
	var hits []scored
	for i, c := range s.chunks {
		score := 0
		for term := range queryTerms {
			if _, ok := c.terms[term]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{pos: i, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	result := Result{Chunks: make([]Chunk, 0, len(hits))}
	for _, h := range hits {
		result.Chunks = append(result.Chunks, s.chunks[h.pos].Chunk)
	}
	return result, nil
}

// Count 返回片段数量。
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// terms 把文本切成小写词；汉字按单字和相邻双字计入。
func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var (
		word    []rune
		prevHan rune
	)
	flushWord := func() {
		if len(word) > 1 {
			out[string(word)] = struct{}{}
		}
		word = word[:0]
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			out[string(r)] = struct{}{}
			if prevHan != 0 {
				out[string([]rune{prevHan, r})] = struct{}{}
			}
			prevHan = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevHan = 0
			word = append(word, r)
		default:
			prevHan = 0
			flushWord()
		}
	}
	flushWord()
	return out
}

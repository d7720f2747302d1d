package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/service/pipeline"
)

type stubEngine struct {
	docs  []string
	err   error
	count int
}

func (s *stubEngine) AddDocument(_ context.Context, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.docs = append(s.docs, text)
	return "id-1", nil
}

func (s *stubEngine) Ingest(_ context.Context, document string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.docs = append(s.docs, document)
	return []string{"id-1", "id-2"}, nil
}

func (s *stubEngine) KnowledgeCount(context.Context) (int, error) {
	return s.count, s.err
}

func serve(engine *stubEngine, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(engine, zap.NewNop()).RegisterRoutes(r)

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAddDocument(t *testing.T) {
	engine := &stubEngine{}

	rec := serve(engine, http.MethodPost, "/documents", `{"text":"AMOGEL is a graph model."}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, []string{"id-1"}, body.IDs)

	rec = serve(engine, http.MethodPost, "/documents", `{"text":"a\n\nb","split":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.IDs, 2)
}

func TestAddDocumentErrors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, serve(&stubEngine{}, http.MethodPost, "/documents", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(&stubEngine{err: pipeline.ErrEmptyDocument}, http.MethodPost, "/documents", `{"text":" "}`).Code)
	assert.Equal(t, http.StatusBadGateway, serve(&stubEngine{err: errors.New("weaviate down")}, http.MethodPost, "/documents", `{"text":"x"}`).Code)
}

func TestStats(t *testing.T) {
	rec := serve(&stubEngine{count: 7}, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"knowledge_count":7}`, rec.Body.String())
}

package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/service/pipeline"
)

type stubEngine struct {
	err error
}

func (s stubEngine) Chat(_ context.Context, req pipeline.ChatRequest) (pipeline.Reply, error) {
	if s.err != nil {
		return pipeline.Reply{}, s.err
	}
	for _, st := range []pipeline.State{pipeline.StateReceived, pipeline.StateChatGen, pipeline.StateReturned} {
		req.Observer(st)
	}
	req.OnToken("Hel")
	req.OnToken("lo")
	return pipeline.Reply{SessionID: req.SessionID, Answer: "Hello"}, nil
}

func events(t *testing.T, body string) []string {
	t.Helper()
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func serve(engine Engine, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(engine, "local", zap.NewNop()).RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStreamEmitsStatesTokensAndEnd(t *testing.T) {
	rec := serve(stubEngine{}, "/stream/s1?message=hi")

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	got := strings.Join(events(t, rec.Body.String()), ",")
	want := "start,state,state,state,token,token,end"
	if got != want {
		t.Fatalf("expected events %s, got %s", want, got)
	}
	if !strings.Contains(rec.Body.String(), `"answer":"Hello"`) {
		t.Fatalf("expected final answer in end event: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"content":"RECEIVED"`) {
		t.Fatalf("expected state payload: %s", rec.Body.String())
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	rec := serve(stubEngine{}, "/stream/s1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamEngineError(t *testing.T) {
	rec := serve(stubEngine{err: pipeline.ErrEmptyQuery}, "/stream/s1?message=%20")

	names := events(t, rec.Body.String())
	if len(names) != 2 || names[1] != "error" {
		t.Fatalf("expected start,error got %v", names)
	}
	if !strings.Contains(rec.Body.String(), "query is empty") {
		t.Fatalf("expected caller error message: %s", rec.Body.String())
	}
}

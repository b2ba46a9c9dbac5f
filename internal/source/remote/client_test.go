package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/nexttok/internal/inference"
	"github.com/samcharles93/nexttok/internal/logits"
	"github.com/samcharles93/nexttok/internal/vocab"
)

func newServer(t *testing.T, next int) (*httptest.Server, *[][]int) {
	t.Helper()
	var windows [][]int
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Info{VocabSize: 5, MaxSeqLength: 8})
	})
	mux.HandleFunc("POST /infer", func(w http.ResponseWriter, r *http.Request) {
		var req InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		windows = append(windows, req.Window)
		probs := make([]float32, 5)
		probs[next] = 1
		_ = json.NewEncoder(w).Encode(InferResponse{Probs: probs})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &windows
}

func TestClientInfo(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, 3)
	c, err := New(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if diff := cmp.Diff(Info{VocabSize: 5, MaxSeqLength: 8}, info); diff != "" {
		t.Fatalf("info mismatch (-want +got):\n%s", diff)
	}
	if err := c.CheckShape(context.Background(), 5, 8); err != nil {
		t.Fatalf("CheckShape: %v", err)
	}
	if err := c.CheckShape(context.Background(), 6, 8); err == nil {
		t.Fatal("expected vocab mismatch")
	}
}

func TestClientDrivesGenerator(t *testing.T) {
	t.Parallel()

	srv, windows := newServer(t, 3)
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g := &inference.Generator{
		Source:       c,
		Vocab:        vocab.Vocabulary{Size: 5, PadTokenID: 0, BoundaryTokenID: 4},
		MaxSeqLength: 8,
	}
	maxNew := 2
	res, err := g.Generate(context.Background(), []int{1, 2}, logits.Defaults(), &maxNew)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 3}, res.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	want := [][]int{
		{1, 2, 0, 0, 0, 0, 0, 0},
		{1, 2, 3, 0, 0, 0, 0, 0},
	}
	if diff := cmp.Diff(want, *windows); diff != "" {
		t.Fatalf("windows mismatch (-want +got):\n%s", diff)
	}
}

func TestClientServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, _ := New(srv.URL, nil)
	_, err := c.Infer(context.Background(), []int{1, 0})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}

func TestClientErrorField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(InferResponse{Error: "window too long"})
	}))
	t.Cleanup(srv.Close)

	c, _ := New(srv.URL, nil)
	if _, err := c.Infer(context.Background(), []int{1}); !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New("  ", nil); err == nil {
		t.Fatal("expected error")
	}
}

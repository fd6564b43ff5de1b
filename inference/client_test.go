package inference

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func decodeRequest(t *testing.T, r *http.Request) GenerateRequest {
	t.Helper()
	gz, err := gzip.NewReader(r.Body)
	if err != nil {
		t.Fatalf("request body not gzip: %v", err)
	}
	var req GenerateRequest
	if err := json.NewDecoder(gz).Decode(&req); err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	return req
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if !req.Greedy {
			t.Error("request did not pin greedy decoding")
		}
		// Extend every prompt with zeros up to MaxTokens.
		var resp generateResponse
		for _, p := range req.Prompts {
			seq := slices.Clone(p)
			for len(seq) < req.MaxTokens {
				seq = append(seq, 0)
			}
			resp.Sequences = append(resp.Sequences, seq)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.Generate(context.Background(), GenerateRequest{
		Prompts:   [][]int32{{1, 2}, {3, 4}},
		MaxTokens: 4,
		Greedy:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int32{{1, 2, 0, 0}, {3, 4, 0, 0}}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("sequence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
			return
		}
		req := decodeRequest(t, r)
		seq := make([]int32, req.MaxTokens)
		json.NewEncoder(w).Encode(generateResponse{Sequences: [][]int32{seq}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.Generate(context.Background(), GenerateRequest{
		Prompts:   [][]int32{{1}},
		MaxTokens: 2,
		Greedy:    true,
	}); err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	if calls != 2 {
		t.Fatalf("server called %d times, want 2", calls)
	}
}

func TestGenerateClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad prompt"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.Generate(context.Background(), GenerateRequest{
		Prompts:   [][]int32{{1}},
		MaxTokens: 2,
		Greedy:    true,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want APIError", err)
	}
	if apiErr.Code != http.StatusBadRequest || apiErr.Message != "bad prompt" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestGenerateLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Sequences: [][]int32{{1}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.Generate(context.Background(), GenerateRequest{
		Prompts:   [][]int32{{1}, {2}},
		MaxTokens: 2,
		Greedy:    true,
	}); err == nil {
		t.Error("sequence count mismatch accepted")
	}
}

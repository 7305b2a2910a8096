package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/flc-rag/internal/config"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddings answers with vector [len(text), position] for each input,
// listing the data in reverse order to exercise index placement.
func fakeEmbeddings(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	var req embeddingRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

	data := make([]map[string]any, 0, len(req.Input))
	for i := len(req.Input) - 1; i >= 0; i-- {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": []float64{float64(len(req.Input[i])), float64(i)},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func newTestEmbedder(t *testing.T, handler http.HandlerFunc, batchSize int) *Embedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.OpenAIConfig{APIKey: "test-key"}, option.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return NewEmbedder(client, "test-model", batchSize, nil)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestGenerateEmbeddings_OrderAndBatching(t *testing.T) {
	var calls atomic.Int32
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fakeEmbeddings(t, w, r)
	}, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.GenerateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0], "vector %d out of order", i)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "test-model", e.Model())
}

func TestGenerateEmbeddings_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		fakeEmbeddings(t, w, r)
	}, 10)

	vectors, err := e.GenerateEmbeddings(context.Background(), []string{"kappa", "lambda"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateEmbeddings_PermanentError(t *testing.T) {
	var calls atomic.Int32
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}, 10)

	_, err := e.GenerateEmbeddings(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateEmbeddings_CountMismatch(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}, 10)

	_, err := e.GenerateEmbeddings(context.Background(), []string{"x", "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
}

func TestGenerateEmbeddings_Cancelled(t *testing.T) {
	var calls atomic.Int32
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fakeEmbeddings(t, w, r)
	}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.GenerateEmbeddings(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, calls.Load())
}

func TestGenerateEmbeddings_DeadlineKeepsCause(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := e.GenerateEmbeddings(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

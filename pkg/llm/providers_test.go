package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
)

func openAIEmbedder(t *testing.T, handler http.HandlerFunc) *Embedder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := newOpenAIClient("test-key", server.URL+"/v1", nil)
	require.NoError(t, err)

	return NewEmbedder(&openAIEmbeddings{client: client, model: "text-embedding-3-small", dimensions: 2},
		EmbedderConfig{Dimensions: 2, BatchSize: 8, MaxRetries: 2, RetryBase: time.Millisecond})
}

func TestOpenAIEmbeddings_OrdersByIndex(t *testing.T) {
	emb := openAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, 2, req.Dimensions)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	})

	vectors, err := emb.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestOpenAIEmbeddings_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCalls int32
	}{
		{"unauthorized", http.StatusUnauthorized, models.ErrProviderAuth, 1},
		{"rate limited", http.StatusTooManyRequests, models.ErrProviderTransient, 3},
		{"server error", http.StatusServiceUnavailable, models.ErrProviderTransient, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			emb := openAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"error"}}`)
			})

			_, err := emb.EmbedBatch(context.Background(), []string{"x"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(&openai.APIError{HTTPStatusCode: 403}), models.ErrProviderAuth)
	assert.ErrorIs(t, classifyError(&openai.RequestError{HTTPStatusCode: 502}), models.ErrProviderTransient)
	assert.ErrorIs(t, classifyError(fmt.Errorf("wrapped: %w", context.Canceled)), context.Canceled)

	plain := fmt.Errorf("model %q not found", "nope")
	assert.Equal(t, plain, classifyError(plain))
	assert.Nil(t, classifyError(nil))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0, 0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(0, 1))
	assert.Equal(t, 1600*time.Millisecond, retryDelay(0, 3))
	assert.Equal(t, 5*time.Second, retryDelay(0, 10))
	assert.Equal(t, 5*time.Second, retryDelay(0, 80))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()

	emb, err := NewEmbedderFromConfig(cfg.Embedder)
	require.NoError(t, err)
	assert.Equal(t, 768, emb.Dimensions())

	_, err = NewChatEngineFromConfig(cfg.LLM)
	require.NoError(t, err)

	t.Setenv("MISSING_KEY_FOR_TEST", "")
	cfg.LLM.Provider = config.ProviderOpenAI
	cfg.LLM.APIKeyEnv = "MISSING_KEY_FOR_TEST"
	_, err = NewChatEngineFromConfig(cfg.LLM)
	assert.ErrorIs(t, err, models.ErrProviderAuth)

	cfg.Embedder.Provider = "bedrock"
	_, err = NewEmbedderFromConfig(cfg.Embedder)
	assert.ErrorIs(t, err, models.ErrValidation)
}

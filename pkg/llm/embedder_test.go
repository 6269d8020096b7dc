package llm_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/llm"
)

// fakeClient embeds text as [len(text), 1, 0...] and fails according to its
// failures queue before succeeding.
type fakeClient struct {
	mu       sync.Mutex
	dims     int
	failures []error
	calls    [][]string
	short    bool
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, texts)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}

	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, f.dims)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Dimensions: 4,
		BatchSize:  3,
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	}
}

func TestEmbedder_BatchesInOrder(t *testing.T) {
	client := &fakeClient{dims: 4}
	emb := llm.NewEmbedder(client, testConfig())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	var progress []int
	vectors, err := emb.EmbedBatchWithProgress(context.Background(), texts, func(done, total int) {
		assert.Equal(t, len(texts), total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Len(t, v, 4)
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, []int{3, 6, 7}, progress)
	assert.Equal(t, 3, client.callCount())
	assert.Equal(t, 4, emb.Dimensions())
}

func TestEmbedder_Embed(t *testing.T) {
	emb := llm.NewEmbedder(&fakeClient{dims: 4}, testConfig())

	v, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0, 0}, v)
}

func TestEmbedder_EmptyInput(t *testing.T) {
	client := &fakeClient{dims: 4}
	emb := llm.NewEmbedder(client, testConfig())

	vectors, err := emb.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, client.callCount())
}

func TestEmbedder_RetriesTransientFailures(t *testing.T) {
	client := &fakeClient{dims: 4, failures: []error{
		fmt.Errorf("%w: 503", models.ErrProviderTransient),
		errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"),
	}}
	emb := llm.NewEmbedder(client, testConfig())

	vectors, err := emb.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 3, client.callCount())
}

func TestEmbedder_GivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeClient{dims: 4, failures: []error{
		models.ErrProviderTransient, models.ErrProviderTransient, models.ErrProviderTransient, models.ErrProviderTransient,
	}}
	emb := llm.NewEmbedder(client, testConfig())

	_, err := emb.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, models.ErrProviderTransient)
	assert.Equal(t, 3, client.callCount())
}

func TestEmbedder_AuthFailsFast(t *testing.T) {
	client := &fakeClient{dims: 4, failures: []error{errors.New("401 Unauthorized")}}
	emb := llm.NewEmbedder(client, testConfig())

	_, err := emb.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, models.ErrProviderAuth)
	assert.Equal(t, 1, client.callCount())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	emb := llm.NewEmbedder(&fakeClient{dims: 3}, testConfig())
	_, err := emb.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestEmbedder_FailedBatchReturnsNoVectors(t *testing.T) {
	client := &fakeClient{dims: 4, short: true}
	emb := llm.NewEmbedder(client, testConfig())

	vectors, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Nil(t, vectors)
	assert.Equal(t, 1, client.callCount(), "mismatches are not retried")
}

func TestEmbedder_ContextCancelled(t *testing.T) {
	client := &fakeClient{dims: 4}
	emb := llm.NewEmbedder(client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := emb.EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.callCount())
}

func TestEmbedder_RateLimitsBatches(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.BatchDelay = 20 * time.Millisecond
	emb := llm.NewEmbedder(&fakeClient{dims: 4}, cfg)

	start := time.Now()
	_, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/llm"
)

// fakeModel streams its chunks through the streaming func, then fails with
// err if set. Each call first consumes one of failures, if any are left,
// and fails with it before streaming anything.
type fakeModel struct {
	chunks   []string
	err      error
	failures []error
	messages []llms.MessageContent
	block    bool
	calls    int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	for _, c := range f.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(f.chunks, "")}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func collect(t *testing.T, ch <-chan models.Delta) (string, models.Delta) {
	t.Helper()
	var text strings.Builder
	var last models.Delta
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return text.String(), last
			}
			if d.Done || d.Err != nil {
				last = d
			} else {
				text.WriteString(d.Text)
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestChatEngine_StreamsDeltasThenDone(t *testing.T) {
	model := &fakeModel{chunks: []string{"The deadline ", "", "is Q3."}}
	engine := llm.NewChatEngine(model, llm.ChatConfig{Model: "mistral", Temperature: 0.2})

	ch, err := engine.GenerateStream(context.Background(), "system prompt", "question")
	require.NoError(t, err)

	text, last := collect(t, ch)
	assert.Equal(t, "The deadline is Q3.", text)
	assert.True(t, last.Done)
	assert.NoError(t, last.Err)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestChatEngine_MidStreamFailure(t *testing.T) {
	model := &fakeModel{chunks: []string{"partial"}, err: errors.New("connection reset: EOF")}
	engine := llm.NewChatEngine(model, llm.ChatConfig{MaxRetries: 2, RetryBase: time.Millisecond})

	ch, err := engine.GenerateStream(context.Background(), "", "question")
	require.NoError(t, err)

	text, last := collect(t, ch)
	assert.Equal(t, "partial", text)
	assert.False(t, last.Done)
	assert.ErrorIs(t, last.Err, models.ErrProviderTransient)
	assert.Equal(t, 1, model.calls, "text already sent is never retried")
}

func TestChatEngine_RetriesBeforeFirstDelta(t *testing.T) {
	tests := []struct {
		name      string
		failures  []error
		retries   int
		wantText  string
		wantErr   error
		wantCalls int
	}{
		{
			name:      "transient failure then success",
			failures:  []error{errors.New("503 service unavailable")},
			retries:   2,
			wantText:  "Recovered.",
			wantCalls: 2,
		},
		{
			name:      "gives up after max retries",
			failures:  []error{errors.New("429 too many requests"), errors.New("429 too many requests")},
			retries:   1,
			wantErr:   models.ErrProviderTransient,
			wantCalls: 2,
		},
		{
			name:      "auth failure is not retried",
			failures:  []error{errors.New("401 unauthorized")},
			retries:   3,
			wantErr:   models.ErrProviderAuth,
			wantCalls: 1,
		},
		{
			name:      "retries disabled",
			failures:  []error{errors.New("503 service unavailable")},
			retries:   0,
			wantErr:   models.ErrProviderTransient,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{chunks: []string{"Recovered."}, failures: tt.failures}
			engine := llm.NewChatEngine(model, llm.ChatConfig{MaxRetries: tt.retries, RetryBase: time.Millisecond})

			ch, err := engine.GenerateStream(context.Background(), "", "question")
			require.NoError(t, err)

			text, last := collect(t, ch)
			assert.Equal(t, tt.wantCalls, model.calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, last.Err, tt.wantErr)
				assert.Empty(t, text)
				return
			}
			assert.NoError(t, last.Err)
			assert.True(t, last.Done)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestChatEngine_Timeout(t *testing.T) {
	model := &fakeModel{chunks: []string{"slow"}, block: true}
	engine := llm.NewChatEngine(model, llm.ChatConfig{Timeout: 20 * time.Millisecond})

	ch, err := engine.GenerateStream(context.Background(), "", "question")
	require.NoError(t, err)

	_, last := collect(t, ch)
	assert.ErrorIs(t, last.Err, context.DeadlineExceeded)
}

func TestChatEngine_RejectsEmptyPrompt(t *testing.T) {
	engine := llm.NewChatEngine(&fakeModel{}, llm.ChatConfig{})
	_, err := engine.GenerateStream(context.Background(), "system", "   ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

// writeChunk writes one streamed completion chunk. An empty finish reason is
// sent as null.
func writeChunk(w http.ResponseWriter, content, finishReason string) {
	reason := "null"
	if finishReason != "" {
		reason = strconv.Quote(finishReason)
	}
	fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":%s}]}\n\n", content, reason)
}

func TestOpenAIChatEngine_Stream(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "Hel", "")
		writeChunk(w, "lo", "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	engine := llm.NewOpenAIChatEngine(client, llm.ChatConfig{Model: "gpt-4o-mini"})

	ch, err := engine.GenerateStream(context.Background(), "system", "say hello")
	require.NoError(t, err)

	text, last := collect(t, ch)
	assert.Equal(t, "Hello", text)
	assert.True(t, last.Done)
}

func TestOpenAIChatEngine_StreamClosedEarly(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "The deadl", "")
	})
	engine := llm.NewOpenAIChatEngine(client, llm.ChatConfig{Model: "gpt-4o-mini"})

	ch, err := engine.GenerateStream(context.Background(), "system", "when is the deadline?")
	require.NoError(t, err)

	text, last := collect(t, ch)
	assert.Equal(t, "The deadl", text)
	assert.False(t, last.Done)
	assert.ErrorIs(t, last.Err, models.ErrProviderTransient)
}

func TestOpenAIChatEngine_AuthError(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})
	engine := llm.NewOpenAIChatEngine(client, llm.ChatConfig{Model: "gpt-4o-mini"})

	ch, err := engine.GenerateStream(context.Background(), "system", "say hello")
	require.NoError(t, err)

	_, last := collect(t, ch)
	assert.ErrorIs(t, last.Err, models.ErrProviderAuth)
}

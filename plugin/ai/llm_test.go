package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLLMService tests service creation.
func TestNewLLMService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *LLMConfig
		expectError bool
	}{
		{
			name: "DeepSeek config",
			cfg: &LLMConfig{
				Provider: "deepseek",
				Model:    "deepseek-chat",
				APIKey:   "test-key",
				BaseURL:  "https://api.deepseek.com",
			},
		},
		{
			name: "Ollama config",
			cfg: &LLMConfig{
				Provider: "ollama",
				Model:    "qwen2.5",
				BaseURL:  "http://localhost:11434/v1",
			},
		},
		{
			name:        "Unsupported provider",
			cfg:         &LLMConfig{Provider: "unsupported", Model: "m"},
			expectError: true,
		},
		{
			name:        "Missing model",
			cfg:         &LLMConfig{Provider: "openai"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMService(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newCompletionServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
	})
}

func TestLLMService_ChatJSON(t *testing.T) {
	var gotFormat any
	srv := newCompletionServer(t, func(w http.ResponseWriter, body map[string]any) {
		gotFormat = body["response_format"]
		writeCompletion(w, `{"value":"yes"}`)
	})

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "test-model", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := svc.ChatJSON(context.Background(), []Message{SystemPrompt("extract"), UserMessage("yes")})
	require.NoError(t, err)
	assert.Equal(t, `{"value":"yes"}`, out)

	format, ok := gotFormat.(map[string]any)
	require.True(t, ok, "response_format should be sent")
	assert.Equal(t, "json_object", format["type"])
}

func TestLLMService_ServerError(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestLLMService_Deadline(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, _ map[string]any) {
		time.Sleep(200 * time.Millisecond)
		writeCompletion(w, "late")
	})

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Chat(ctx, []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLLMService_EmptyChoices(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "abc", TruncateForLog("abc", 5))
	assert.Equal(t, "ab...", TruncateForLog("abcdef", 2))
}

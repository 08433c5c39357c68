package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"explanation-service/service/errdef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoreSchema = &ResponseSchema{
	Name: "clarity",
	Fields: []Field{
		{Name: "score", Type: FieldInteger},
		{Name: "feedback", Type: FieldString},
	},
}

func newOpenAIServer(t *testing.T, status int, content string, headers map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"` + content + `"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func newTestClient(t *testing.T, server *httptest.Server, format string) *LLMClient {
	client, err := NewLLMClient("custom", "test-key",
		WithBaseURL(server.URL),
		WithModel("test-model"),
		WithAPIFormat(format))
	require.NoError(t, err)
	return client
}

// TestGenerate_OpenAIWithSchema 测试OpenAI格式结构化响应
func TestGenerate_OpenAIWithSchema(t *testing.T) {
	server := newOpenAIServer(t, http.StatusOK, "```json\n{\"score\": 21, \"feedback\": \"clear\"}\n```", nil)
	defer server.Close()

	client := newTestClient(t, server, "openai")
	result, err := client.Generate(context.Background(), Prompt{System: "rubric", User: "content"}, scoreSchema)
	require.NoError(t, err)

	score, err := result.Int("score")
	require.NoError(t, err)
	assert.Equal(t, 21, score)

	feedback, err := result.String("feedback")
	require.NoError(t, err)
	assert.Equal(t, "clear", feedback)
	assert.Equal(t, "test-model", result.Model)
}

// TestGenerate_PlainText 测试无schema时返回原始文本
func TestGenerate_PlainText(t *testing.T) {
	server := newOpenAIServer(t, http.StatusOK, "A regenerated summary.", nil)
	defer server.Close()

	client := newTestClient(t, server, "openai")
	result, err := client.Generate(context.Background(), Prompt{User: "regenerate"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "A regenerated summary.", result.Text)
	assert.Nil(t, result.Fields)
}

// TestGenerate_Anthropic 测试Anthropic格式
func TestGenerate_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req AnthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.System, `"score"`)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": `{"score": "12", "feedback": "ok"}`}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server, "anthropic")
	result, err := client.Generate(context.Background(), Prompt{User: "content"}, scoreSchema)
	require.NoError(t, err)

	score, err := result.Int("score")
	require.NoError(t, err)
	assert.Equal(t, 12, score)
}

// TestGenerate_StatusClassification 测试状态码到错误类型的映射
func TestGenerate_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errdef.Kind
	}{
		{"限流", http.StatusTooManyRequests, errdef.KindTransient},
		{"服务端错误", http.StatusBadGateway, errdef.KindTransient},
		{"鉴权失败", http.StatusUnauthorized, errdef.KindConfiguration},
		{"请求非法", http.StatusBadRequest, errdef.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newOpenAIServer(t, tt.status, "boom", map[string]string{"Retry-After": "3"})
			defer server.Close()

			client := newTestClient(t, server, "openai")
			_, err := client.Generate(context.Background(), Prompt{User: "x"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, errdef.KindOf(err))
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 3*time.Second, errdef.RetryAfterOf(err))
			}
		})
	}
}

// TestGenerate_UnparseableSchemaResponse 测试结构化响应无法解析时返回可重试错误
func TestGenerate_UnparseableSchemaResponse(t *testing.T) {
	server := newOpenAIServer(t, http.StatusOK, "I think it deserves a good score.", nil)
	defer server.Close()

	client := newTestClient(t, server, "openai")
	_, err := client.Generate(context.Background(), Prompt{User: "x"}, scoreSchema)
	require.Error(t, err)
	assert.True(t, errdef.IsRetryable(err))
}

// TestNewLLMClient_Validation 测试客户端配置校验
func TestNewLLMClient_Validation(t *testing.T) {
	_, err := NewLLMClient("groq", "")
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	_, err = NewLLMClient("unknown", "key")
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	_, err = NewLLMClient("openai", "key", WithAPIFormat("grpc"))
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	client, err := NewLLMClient("ollama", "")
	require.NoError(t, err)
	assert.Equal(t, "llama3", client.Model())
}

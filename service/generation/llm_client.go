/*
 * @module service/generation/llm_client
 * @description 基于HTTP的大模型客户端，支持 OpenAI 兼容接口（含 Groq）和 Anthropic 接口
 * @architecture 基础设施层 - 外部服务适配器
 * @stateFlow 组装请求 -> 调用接口 -> 状态码分类 -> 提取文本 -> 解析结构化字段
 * @rules 429/5xx/网络错误归为瞬时错误；401/403 归为配置错误；其他 4xx 归为校验错误
 * @dependencies net/http, github.com/spf13/cast
 * @refs service/generation/gated_client.go
 */

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"explanation-service/service/errdef"

	"github.com/spf13/cast"
)

const (
	defaultLLMTimeout   = 120 * time.Second
	defaultMaxTokens    = 1500
	defaultTemperature  = 0.2
	anthropicAPIVersion = "2023-06-01"
)

// 已知服务商预设
var providerDefaults = map[string]struct {
	BaseURL   string
	Model     string
	APIFormat string
}{
	"groq":      {BaseURL: "https://api.groq.com/openai/v1/chat/completions", Model: "openai/gpt-oss-20b", APIFormat: "openai"},
	"openai":    {BaseURL: "https://api.openai.com/v1/chat/completions", Model: "gpt-4o-mini", APIFormat: "openai"},
	"anthropic": {BaseURL: "https://api.anthropic.com/v1/messages", Model: "claude-sonnet-4-5-20250929", APIFormat: "anthropic"},
	"ollama":    {BaseURL: "http://localhost:11434/v1/chat/completions", Model: "llama3", APIFormat: "openai"},
}

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest OpenAI 兼容请求体
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse OpenAI 兼容响应体
type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// AnthropicRequest Anthropic /v1/messages 请求体
type AnthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []ChatMessage `json:"messages"`
}

// AnthropicResponse Anthropic /v1/messages 响应体
type AnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// LLMClient 大模型HTTP客户端
type LLMClient struct {
	provider   string
	apiFormat  string // openai 或 anthropic
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// LLMOption 客户端选项
type LLMOption func(*LLMClient)

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(client *http.Client) LLMOption {
	return func(c *LLMClient) {
		c.httpClient = client
	}
}

// WithModel 设置模型
func WithModel(model string) LLMOption {
	return func(c *LLMClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL 设置接口地址
func WithBaseURL(url string) LLMOption {
	return func(c *LLMClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithAPIFormat 设置接口格式
func WithAPIFormat(format string) LLMOption {
	return func(c *LLMClient) {
		if format != "" {
			c.apiFormat = format
		}
	}
}

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) LLMOption {
	return func(c *LLMClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewLLMClient 创建大模型客户端
func NewLLMClient(provider, apiKey string, opts ...LLMOption) (*LLMClient, error) {
	if provider == "" {
		provider = "groq"
	}

	defaults := providerDefaults[provider]
	client := &LLMClient{
		provider:   provider,
		apiFormat:  defaults.APIFormat,
		apiKey:     apiKey,
		model:      defaults.Model,
		baseURL:    defaults.BaseURL,
		httpClient: &http.Client{Timeout: defaultLLMTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.apiFormat == "" {
		client.apiFormat = "openai"
	}
	if client.apiFormat != "openai" && client.apiFormat != "anthropic" {
		return nil, errdef.Configuration("generation.new", "不支持的接口格式: %s", client.apiFormat)
	}
	if client.baseURL == "" {
		return nil, errdef.Configuration("generation.new", "服务商 %s 缺少 base_url", provider)
	}
	if client.model == "" {
		return nil, errdef.Configuration("generation.new", "服务商 %s 缺少 model", provider)
	}
	if client.apiKey == "" && provider != "ollama" {
		return nil, errdef.Configuration("generation.new", "服务商 %s 缺少 api_key", provider)
	}

	return client, nil
}

// Model 返回模型名称
func (c *LLMClient) Model() string {
	return c.model
}

// Generate 发送提示词并返回生成结果
func (c *LLMClient) Generate(ctx context.Context, prompt Prompt, schema *ResponseSchema) (*Result, error) {
	system := prompt.System
	if schema != nil {
		system = strings.TrimSpace(system + "\n\n" + schemaInstruction(schema))
	}

	body, err := c.buildRequest(system, prompt)
	if err != nil {
		return nil, errdef.Validation("generation.build", "序列化请求失败: %v", err)
	}

	text, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	result := &Result{Text: text, Model: c.model}
	if schema != nil {
		fields, err := ParseFields(text, schema)
		if err != nil {
			return nil, err
		}
		result.Fields = fields
	}
	return result, nil
}

func (c *LLMClient) buildRequest(system string, prompt Prompt) ([]byte, error) {
	temperature := prompt.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if c.apiFormat == "anthropic" {
		return json.Marshal(AnthropicRequest{
			Model:       c.model,
			MaxTokens:   maxTokens,
			System:      system,
			Temperature: temperature,
			Messages:    []ChatMessage{{Role: "user", Content: prompt.User}},
		})
	}

	messages := make([]ChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt.User})
	return json.Marshal(ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

func (c *LLMClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", errdef.Configuration("generation.request", "创建请求失败: %v", err)
	}

	if c.apiFormat == "anthropic" {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", errdef.Transient("generation.request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errdef.Transient("generation.read", fmt.Errorf("读取响应失败: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp, respBody)
	}

	return c.extractContent(respBody)
}

// classifyStatus 按状态码映射错误类型
func classifyStatus(resp *http.Response, body []byte) error {
	apiErr := parseAPIError(resp.StatusCode, body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := errdef.Transient("generation.rate_limited", apiErr)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		slog.Warn("生成服务限流", "status", resp.StatusCode, "retry_after", e.RetryAfter)
		return e
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return errdef.Transient("generation.server", apiErr)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errdef.Error{Kind: errdef.KindConfiguration, Op: "generation.auth", Err: apiErr}
	default:
		return &errdef.Error{Kind: errdef.KindValidation, Op: "generation.request", Err: apiErr}
	}
}

// parseRetryAfter 解析 Retry-After 头（秒数）
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := cast.ToFloat64E(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// extractContent 按接口格式提取文本内容
func (c *LLMClient) extractContent(respBody []byte) (string, error) {
	if c.apiFormat == "anthropic" {
		var anthropicResp AnthropicResponse
		if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
			return "", errdef.Transientf("generation.decode", "响应不是JSON: %s", preview(respBody))
		}
		if anthropicResp.Error != nil {
			return "", errdef.Transientf("generation.decode", "接口错误: %s", anthropicResp.Error.Message)
		}
		for _, block := range anthropicResp.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", errdef.Transientf("generation.decode", "Anthropic 响应中没有文本内容")
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", errdef.Transientf("generation.decode", "响应不是JSON: %s", preview(respBody))
	}
	if chatResp.Error != nil {
		return "", errdef.Transientf("generation.decode", "接口错误: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", errdef.Transientf("generation.decode", "响应中没有 choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// parseAPIError 从错误响应中提取可读信息
func parseAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return fmt.Errorf("接口错误(状态码 %d): %s", statusCode, parsed.Error.Message)
	}
	return fmt.Errorf("接口错误(状态码 %d): %s", statusCode, preview(body))
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

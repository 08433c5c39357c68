package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"explanation-service/service/errdef"
	"explanation-service/service/generation"
)

// FakeCall 一次生成调用记录
type FakeCall struct {
	Schema string
	Prompt generation.Prompt
}

// FakeGenerationClient 可编排的生成服务替身
// 评分请求按 schema 名称（维度名）返回 Scores 中的分数；章节请求返回 SectionValues 或默认内容
type FakeGenerationClient struct {
	mu sync.Mutex

	Scores        map[string]int
	ScoreFunc     func(dimension string, call int) int // 优先于 Scores，call 为该维度第几次调用（从1开始）
	SectionValues map[string]interface{}
	FailFirst     int   // 前 N 次调用失败
	FailErr       error // 失败时返回的错误，默认瞬时错误
	FailOn        func(call FakeCall) error

	calls      []FakeCall
	dimCalls   map[string]int
	totalCalls int
}

// NewFakeGenerationClient 创建生成服务替身
func NewFakeGenerationClient(scores map[string]int) *FakeGenerationClient {
	return &FakeGenerationClient{
		Scores:        scores,
		SectionValues: map[string]interface{}{},
		dimCalls:      map[string]int{},
	}
}

// MaxScores 各 LLM 维度满分
func MaxScores() map[string]int {
	return map[string]int{"clarity": 25, "accuracy": 25, "relevance": 15}
}

// ZeroScores 各 LLM 维度零分
func ZeroScores() map[string]int {
	return map[string]int{"clarity": 0, "accuracy": 0, "relevance": 0}
}

// Generate 实现 generation.Client
func (f *FakeGenerationClient) Generate(ctx context.Context, prompt generation.Prompt, schema *generation.ResponseSchema) (*generation.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call := FakeCall{Prompt: prompt}
	if schema != nil {
		call.Schema = schema.Name
	}
	f.calls = append(f.calls, call)
	f.totalCalls++

	if f.totalCalls <= f.FailFirst {
		if f.FailErr != nil {
			return nil, f.FailErr
		}
		return nil, errdef.Transientf("fake.generate", "第%d次调用模拟失败", f.totalCalls)
	}
	if f.FailOn != nil {
		if err := f.FailOn(call); err != nil {
			return nil, err
		}
	}

	if schema == nil {
		return &generation.Result{Text: "generated text", Model: "fake-model"}, nil
	}

	if strings.HasPrefix(schema.Name, generation.SectionSchemaPrefix) {
		return f.sectionResult(strings.TrimPrefix(schema.Name, generation.SectionSchemaPrefix), schema), nil
	}

	if f.dimCalls == nil {
		f.dimCalls = map[string]int{}
	}
	f.dimCalls[schema.Name]++
	score := f.Scores[schema.Name]
	if f.ScoreFunc != nil {
		score = f.ScoreFunc(schema.Name, f.dimCalls[schema.Name])
	}
	return &generation.Result{
		Text:  fmt.Sprintf(`{"score": %d}`, score),
		Model: "fake-model",
		Fields: map[string]interface{}{
			"score":    score,
			"feedback": "feedback for " + schema.Name,
		},
	}, nil
}

func (f *FakeGenerationClient) sectionResult(section string, schema *generation.ResponseSchema) *generation.Result {
	fields := make(map[string]interface{}, len(schema.Fields))
	for _, field := range schema.Fields {
		if value, ok := f.SectionValues[section]; ok {
			fields[field.Name] = value
			continue
		}
		switch field.Type {
		case generation.FieldStringList:
			fields[field.Name] = []interface{}{"duty", "devotion"}
		case generation.FieldObjectList:
			fields[field.Name] = []interface{}{
				map[string]interface{}{"category": "Work", "description": "Regenerated example for " + section},
			}
		default:
			fields[field.Name] = "Regenerated " + section + " content that is long enough to count."
		}
	}
	return &generation.Result{Text: "regenerated", Model: "fake-model", Fields: fields}
}

// Calls 返回调用记录副本
func (f *FakeGenerationClient) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// TotalCalls 返回总调用次数
func (f *FakeGenerationClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalCalls
}

// RegeneratedSections 返回按调用顺序记录的被重生成章节
func (f *FakeGenerationClient) RegeneratedSections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	sections := make([]string, 0)
	for _, call := range f.calls {
		if strings.HasPrefix(call.Schema, generation.SectionSchemaPrefix) {
			sections = append(sections, strings.TrimPrefix(call.Schema, generation.SectionSchemaPrefix))
		}
	}
	return sections
}

// SetScores 并发安全地替换评分
func (f *FakeGenerationClient) SetScores(scores map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scores = scores
}

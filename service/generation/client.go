/*
 * @module service/generation/client
 * @description 文本生成服务契约：发送提示词，返回生成文本或结构化字段
 * @architecture 外部协作方接口
 * @stateFlow 构造提示词 -> 生成 -> 解析结构化字段
 * @rules 客户端不做重试，错误均视为可能的瞬时错误，由编排器决定是否重试
 * @dependencies github.com/spf13/cast
 * @refs service/quality/evaluator.go, service/improvement/engine.go
 */

package generation

import (
	"context"
	"fmt"
	"math"

	"explanation-service/service/errdef"

	"github.com/spf13/cast"
)

// FieldType 结构化字段类型
type FieldType string

const (
	FieldInteger    FieldType = "integer"
	FieldString     FieldType = "string"
	FieldStringList FieldType = "string_list"
	FieldObjectList FieldType = "object_list"
)

// Field 结构化字段定义
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// SectionSchemaPrefix 章节重生成请求的 schema 名称前缀，其余 schema 以维度名命名
const SectionSchemaPrefix = "section:"

// ResponseSchema 期望的结构化响应
type ResponseSchema struct {
	Name   string
	Fields []Field
}

// Prompt 生成请求
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Result 生成结果
type Result struct {
	Text   string                 // 原始文本
	Fields map[string]interface{} // 按 schema 解析出的字段，无 schema 时为空
	Model  string
}

// Client 文本生成客户端
type Client interface {
	Generate(ctx context.Context, prompt Prompt, schema *ResponseSchema) (*Result, error)
}

// ClientFunc 函数适配器
type ClientFunc func(ctx context.Context, prompt Prompt, schema *ResponseSchema) (*Result, error)

// Generate 实现 Client
func (f ClientFunc) Generate(ctx context.Context, prompt Prompt, schema *ResponseSchema) (*Result, error) {
	return f(ctx, prompt, schema)
}

// Float 读取数值字段，无法转换或为 NaN 时返回瞬时错误
func (r *Result) Float(name string) (float64, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return 0, errdef.Transientf("generation.parse", "响应缺少字段 %s", name)
	}
	// 模型偶尔返回 "18.0" 这类浮点文本
	value, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, errdef.Transient("generation.parse", fmt.Errorf("字段 %s 不是数值: %w", name, err))
	}
	if math.IsNaN(value) {
		return 0, errdef.Transientf("generation.parse", "字段 %s 不是数值: NaN", name)
	}
	return value, nil
}

// Int 读取整数字段，小数部分截断，超出 int32 范围的值饱和到边界
func (r *Result) Int(name string) (int, error) {
	f, err := r.Float(name)
	if err != nil {
		return 0, err
	}
	f = math.Max(math.Min(math.Trunc(f), math.MaxInt32), math.MinInt32)
	return int(f), nil
}

// String 读取字符串字段
func (r *Result) String(name string) (string, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return "", errdef.Transientf("generation.parse", "响应缺少字段 %s", name)
	}
	value, err := cast.ToStringE(raw)
	if err != nil {
		return "", errdef.Transient("generation.parse", fmt.Errorf("字段 %s 不是字符串: %w", name, err))
	}
	return value, nil
}

// StringList 读取字符串列表字段
func (r *Result) StringList(name string) ([]string, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return nil, errdef.Transientf("generation.parse", "响应缺少字段 %s", name)
	}
	if _, isList := raw.([]interface{}); !isList {
		if _, isStrings := raw.([]string); !isStrings {
			return nil, errdef.Transientf("generation.parse", "字段 %s 不是列表", name)
		}
	}
	value, err := cast.ToStringSliceE(raw)
	if err != nil {
		return nil, errdef.Transient("generation.parse", fmt.Errorf("字段 %s 不是字符串列表: %w", name, err))
	}
	return value, nil
}

// ObjectList 读取对象列表字段
func (r *Result) ObjectList(name string) ([]map[string]interface{}, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return nil, errdef.Transientf("generation.parse", "响应缺少字段 %s", name)
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, errdef.Transient("generation.parse", fmt.Errorf("字段 %s 不是列表: %w", name, err))
	}

	objects := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		obj, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, errdef.Transient("generation.parse", fmt.Errorf("字段 %s 第%d项不是对象: %w", name, i, err))
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

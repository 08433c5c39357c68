package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"explanation-service/service/errdef"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSONObject 从模型输出中提取 JSON 对象
// 依次尝试：```json 代码块、整段文本、第一个配平的 {...}
func ExtractJSONObject(text string) (map[string]interface{}, error) {
	candidates := make([]string, 0, 3)
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(match[1]))
	}
	candidates = append(candidates, strings.TrimSpace(text))
	if balanced := firstBalancedObject(text); balanced != "" {
		candidates = append(candidates, balanced)
	}

	for _, candidate := range candidates {
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	preview := text
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return nil, errdef.Transientf("generation.parse", "响应中没有可解析的JSON对象: %s", preview)
}

// ParseFields 按 schema 解析字段，缺少字段视为解析失败
func ParseFields(text string, schema *ResponseSchema) (map[string]interface{}, error) {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{}, len(schema.Fields))
	for _, field := range schema.Fields {
		value, ok := obj[field.Name]
		if !ok || value == nil {
			return nil, errdef.Transientf("generation.parse", "响应缺少字段 %s", field.Name)
		}
		fields[field.Name] = value
	}
	return fields, nil
}

// schemaInstruction 生成要求模型输出 JSON 的说明
func schemaInstruction(schema *ResponseSchema) string {
	var b strings.Builder
	b.WriteString("Respond with ONLY a JSON object with these fields:\n")
	for _, field := range schema.Fields {
		desc := field.Description
		if desc == "" {
			desc = string(field.Type)
		}
		fmt.Fprintf(&b, "- %q (%s): %s\n", field.Name, field.Type, desc)
	}
	return b.String()
}

// firstBalancedObject 返回文本中第一个括号配平的 JSON 对象片段
func firstBalancedObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

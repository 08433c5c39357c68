package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// 通用 JSON 类型
type JSONB map[string]interface{}

// JSONBStringArray 用于存储字符串数组的 JSONB 类型
type JSONBStringArray []string

// 实现 Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	bytes, err := scanBytes(value)
	if err != nil || bytes == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(bytes, j)
}

// 实现 Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

// Clone 深拷贝，嵌套的 map 和切片同样复制
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	cloned := make(JSONB, len(j))
	for k, v := range j {
		cloned[k] = cloneValue(v)
	}
	return cloned
}

// JSONBStringArray 的 Scanner 接口实现
func (j *JSONBStringArray) Scan(value interface{}) error {
	bytes, err := scanBytes(value)
	if err != nil || bytes == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(bytes, j)
}

// JSONBStringArray 的 Valuer 接口实现
func (j JSONBStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ToJSONB 将任意结构体转换为 JSONB
func ToJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeJSONB 将 JSONB 解析到目标结构体
func DecodeJSONB(j JSONB, out interface{}) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("类型断言失败: 不是 []byte 或 string")
	}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		cloned := make(map[string]interface{}, len(val))
		for k, inner := range val {
			cloned[k] = cloneValue(inner)
		}
		return cloned
	case JSONB:
		return val.Clone()
	case []interface{}:
		cloned := make([]interface{}, len(val))
		for i, inner := range val {
			cloned[i] = cloneValue(inner)
		}
		return cloned
	case []string:
		return append([]string(nil), val...)
	case []map[string]interface{}:
		cloned := make([]map[string]interface{}, len(val))
		for i, inner := range val {
			cloned[i] = cloneValue(inner).(map[string]interface{})
		}
		return cloned
	default:
		return val
	}
}

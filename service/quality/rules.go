package quality

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"explanation-service/service/models"

	"github.com/PuerkitoBio/goquery"
)

// sectionFinding 规则维度对单个章节的判断
type sectionFinding struct {
	present bool
	broken  bool
	issues  []string
}

// ruleResult 规则维度评估结果
type ruleResult struct {
	completeness float64
	structure    float64
	missing      []string
	findings     map[string]*sectionFinding
	issues       []string
}

// evaluateRules 计算完整度和结构两个规则维度
func (e *QualityEvaluator) evaluateRules(item *models.ExplainedItem) *ruleResult {
	result := &ruleResult{findings: make(map[string]*sectionFinding, len(models.SectionCatalog))}

	required := 0
	present := 0
	deduction := 0.0

	for _, spec := range models.SectionCatalog {
		value, _ := item.Section(spec.Name)
		finding, penalty := e.inspectSection(spec, value)
		result.findings[spec.Name] = finding
		deduction += penalty
		result.issues = append(result.issues, finding.issues...)

		if !spec.Required {
			continue
		}
		required++
		if finding.present {
			present++
		} else {
			result.missing = append(result.missing, spec.Name)
		}
	}

	completenessMax, structureMax := dimensionMax(models.DimensionCompleteness), dimensionMax(models.DimensionStructure)
	if required > 0 {
		result.completeness = completenessMax * float64(present) / float64(required)
	}
	result.structure = clamp(structureMax-deduction, 0, structureMax)
	return result
}

// inspectSection 检查单个章节，返回判断和结构扣分
func (e *QualityEvaluator) inspectSection(spec models.SectionSpec, value interface{}) (*sectionFinding, float64) {
	finding := &sectionFinding{}
	if value == nil {
		return finding, 0
	}

	penalty := 0.0
	flag := func(points float64, format string, args ...interface{}) {
		penalty += points
		finding.broken = true
		finding.issues = append(finding.issues, spec.Name+": "+fmt.Sprintf(format, args...))
	}

	switch spec.Kind {
	case models.SectionKindText:
		text, ok := value.(string)
		if !ok {
			flag(1, "expected text, got %T", value)
			return finding, penalty
		}
		visible := visibleText(text)
		length := utf8.RuneCountInString(visible)
		finding.present = length >= e.cfg.MinSectionChars
		if length > e.cfg.MaxSectionChars {
			flag(0.5, "text too long (%d characters)", length)
		}
		if header := duplicateHeader(text); header != "" {
			flag(1, "duplicate header %q", header)
		}

	case models.SectionKindStringList:
		entries, ok := asList(value)
		if !ok {
			flag(1, "expected a list of strings, got %T", value)
			return finding, penalty
		}
		seen := make(map[string]bool, len(entries))
		malformed := false
		duplicated := ""
		for _, entry := range entries {
			s, isString := entry.(string)
			s = strings.TrimSpace(s)
			if !isString || s == "" {
				malformed = true
				continue
			}
			key := strings.ToLower(s)
			if seen[key] && duplicated == "" {
				duplicated = s
			}
			seen[key] = true
		}
		finding.present = len(seen) > 0
		if malformed {
			flag(1, "list contains empty or non-string entries")
		}
		if duplicated != "" {
			flag(1, "duplicate entry %q", duplicated)
		}

	case models.SectionKindExampleList:
		entries, ok := asList(value)
		if !ok {
			flag(2, "expected a list of {category, description} objects, got %T", value)
			return finding, penalty
		}
		valid := 0
		for _, entry := range entries {
			obj, isObject := entry.(map[string]interface{})
			if !isObject {
				continue
			}
			category, _ := obj["category"].(string)
			description, _ := obj["description"].(string)
			if strings.TrimSpace(category) != "" && strings.TrimSpace(description) != "" {
				valid++
			}
		}
		finding.present = valid > 0
		if valid < len(entries) {
			flag(1, "%d of %d examples lack a category or description", len(entries)-valid, len(entries))
		}
	}

	return finding, penalty
}

// visibleText 返回去掉HTML标记后的可见文本
func visibleText(text string) string {
	if strings.Contains(text, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// duplicateHeader 返回文本中第一个重复出现的 markdown 标题
func duplicateHeader(text string) string {
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		header := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
		if header == "" {
			continue
		}
		if seen[header] {
			return header
		}
		seen[header] = true
	}
	return ""
}

func asList(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		list := make([]interface{}, len(v))
		for i, s := range v {
			list[i] = s
		}
		return list, true
	case []map[string]interface{}:
		list := make([]interface{}, len(v))
		for i, m := range v {
			list[i] = m
		}
		return list, true
	default:
		return nil, false
	}
}

func dimensionMax(name string) float64 {
	d, _ := LookupDimension(name)
	return d.Max
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

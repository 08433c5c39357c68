/*
 * @module service/models/section
 * @description 解释内容章节目录，定义章节名称、取值形态和声明顺序
 * @architecture 数据模型层
 * @stateFlow 章节目录 -> 质量评估 / 章节重生成
 * @rules 章节顺序固定；必填章节参与完整度计算；未知章节视为非法输入
 * @dependencies 无
 * @refs service/quality/evaluator.go, service/improvement/engine.go
 */

package models

// 章节名称
const (
	SectionSummary             = "summary"
	SectionDetailedMeaning     = "detailed_meaning"
	SectionDetailedExplanation = "detailed_explanation"
	SectionContext             = "context"
	SectionWhyThisMatters      = "why_this_matters"
	SectionModernExamples      = "modern_examples"
	SectionThemes              = "themes"
	SectionReflectionPrompt    = "reflection_prompt"
)

// SectionKind 章节取值形态
type SectionKind int

const (
	SectionKindText        SectionKind = iota // 文本
	SectionKindStringList                     // 字符串列表
	SectionKindExampleList                    // {category, description} 对象列表
)

// SectionSpec 章节定义
type SectionSpec struct {
	Name     string
	Label    string
	Kind     SectionKind
	Required bool
}

// SectionCatalog 章节目录，按声明顺序排列
var SectionCatalog = []SectionSpec{
	{Name: SectionSummary, Label: "Summary", Kind: SectionKindText, Required: true},
	{Name: SectionDetailedMeaning, Label: "Detailed Meaning", Kind: SectionKindText, Required: true},
	{Name: SectionDetailedExplanation, Label: "Detailed Explanation", Kind: SectionKindText, Required: true},
	{Name: SectionContext, Label: "Context", Kind: SectionKindText, Required: true},
	{Name: SectionWhyThisMatters, Label: "Why This Matters", Kind: SectionKindText, Required: true},
	{Name: SectionModernExamples, Label: "Modern Examples", Kind: SectionKindExampleList, Required: true},
	{Name: SectionThemes, Label: "Themes", Kind: SectionKindStringList, Required: true},
	{Name: SectionReflectionPrompt, Label: "Reflection Prompt", Kind: SectionKindText, Required: false},
}

// LookupSection 按名称查找章节定义
func LookupSection(name string) (SectionSpec, bool) {
	for _, spec := range SectionCatalog {
		if spec.Name == name {
			return spec, true
		}
	}
	return SectionSpec{}, false
}

// RequiredSections 返回必填章节
func RequiredSections() []SectionSpec {
	required := make([]SectionSpec, 0, len(SectionCatalog))
	for _, spec := range SectionCatalog {
		if spec.Required {
			required = append(required, spec)
		}
	}
	return required
}

// SectionOrder 返回章节在目录中的位置，未知章节返回 -1
func SectionOrder(name string) int {
	for i, spec := range SectionCatalog {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

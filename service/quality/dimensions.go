package quality

import "explanation-service/service/models"

// Dimension 评估维度定义
type Dimension struct {
	Name   string
	Max    float64
	LLM    bool   // 是否委托生成服务评分
	Rubric string // LLM 维度的评分细则
}

// Dimensions 评估维度，上限之和为100
var Dimensions = []Dimension{
	{Name: models.DimensionCompleteness, Max: 25},
	{Name: models.DimensionStructure, Max: 10},
	{
		Name: models.DimensionClarity,
		Max:  25,
		LLM:  true,
		Rubric: "Clarity: is the explanation easy to follow for a general reader, logically organised, " +
			"and free of unexplained jargon? Penalise vague or repetitive passages.",
	},
	{
		Name: models.DimensionAccuracy,
		Max:  25,
		LLM:  true,
		Rubric: "Accuracy: is every claim faithful to the source text and its accepted interpretation? " +
			"Penalise fabricated facts, misattributed quotes and contradictions between sections.",
	},
	{
		Name: models.DimensionRelevance,
		Max:  15,
		LLM:  true,
		Rubric: "Relevance: do the modern examples and the 'why this matters' section connect the source " +
			"to contemporary life in concrete, specific terms?",
	},
}

// sectionDimensions 章节到 LLM 维度的映射；完整度和结构按章节逐个判断
var sectionDimensions = map[string][]string{
	models.SectionSummary:             {models.DimensionClarity},
	models.SectionDetailedMeaning:     {models.DimensionClarity, models.DimensionAccuracy},
	models.SectionDetailedExplanation: {models.DimensionClarity, models.DimensionAccuracy},
	models.SectionContext:             {models.DimensionAccuracy},
	models.SectionWhyThisMatters:      {models.DimensionRelevance},
	models.SectionModernExamples:      {models.DimensionRelevance},
}

// LookupDimension 按名称查找维度
func LookupDimension(name string) (Dimension, bool) {
	for _, d := range Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// SectionDimensions 返回章节关联的维度（含完整度和结构）
func SectionDimensions(section string) []string {
	dims := []string{models.DimensionCompleteness, models.DimensionStructure}
	return append(dims, sectionDimensions[section]...)
}

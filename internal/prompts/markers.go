package prompts

const (
	LangZH = "zh"
	LangEN = "en"
)

// MarkerSet holds the section markers of the free-text turn format
type MarkerSet struct {
	Story     string
	Options   string
	Image     string
	Character string
}

// All returns the markers in the order they appear in a reply
func (m MarkerSet) All() []string {
	return []string{m.Story, m.Options, m.Image, m.Character}
}

var markerSets = map[string]MarkerSet{
	LangZH: {Story: "【剧情】", Options: "【分支】", Image: "【图片】", Character: "【新角色】"},
	LangEN: {Story: "[STORY]", Options: "[OPTIONS]", Image: "[IMAGE]", Character: "[CHARACTER]"},
}

// Markers returns the marker set for a language
func Markers(lang string) MarkerSet {
	return markerSets[NormalizeLanguage(lang)]
}

var stageLabels = map[string]map[string]string{
	LangZH: {
		"opening":     "开场/介绍",
		"development": "发展/冲突",
		"climax":      "高潮/转折",
		"resolution":  "结局/收尾",
	},
	LangEN: {
		"opening":     "opening / introduction",
		"development": "development / conflict",
		"climax":      "climax / turning point",
		"resolution":  "resolution / ending",
	},
}

// StageLabel renders a narrative stage for the system prompt
func StageLabel(stage, lang string) string {
	if label, ok := stageLabels[NormalizeLanguage(lang)][stage]; ok {
		return label
	}
	return stage
}

// ImageStylePrefix is prepended to every image generation prompt
const ImageStylePrefix = "【画风要求】Japanese anime style or galgame visual novel artwork。\n"

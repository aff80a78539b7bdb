package engine

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"AI-Adventure/server/internal/models"
	"AI-Adventure/server/internal/prompts"
)

var (
	errMissingStoryMarker   = errors.New("story marker missing")
	errMissingOptionsMarker = errors.New("options marker missing")
	errEmptyStory           = errors.New("story text empty")
)

// optionNumbering matches list numbering such as "1." "2、" "3)" "①" "一、".
// Letter numbering ("A." "B)") only counts at the start of a line.
var optionNumbering = regexp.MustCompile(`(?m)(?:^|[\s,，;；。*|])(\d{1,2}\s*[.．、)）:：]|[一二三四五六七八九十]{1,2}\s*[、.．])|^[\s*]*([A-H]\s*[.．、)）])|([①②③④⑤⑥⑦⑧⑨⑩])`)

const labelCutset = " \t\r\n*_#-:：,，;；|"

var noImageValues = map[string]bool{
	"无": true, "无。": true, "（无）": true, "(无)": true, "none": true, "n/a": true, "null": true, "no": true, "-": true,
}

type section struct {
	marker string
	start  int
}

// ParseMarkedReply extracts a turn from free text carrying section markers.
// Each section runs from its marker to the next marker or the end.
func ParseMarkedReply(reply string, markers prompts.MarkerSet) (models.TurnResult, error) {
	found := make([]section, 0, 4)
	for _, m := range markers.All() {
		if idx := strings.Index(reply, m); idx >= 0 {
			found = append(found, section{marker: m, start: idx})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })

	bodies := make(map[string]string, len(found))
	for i, s := range found {
		end := len(reply)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		bodies[s.marker] = strings.TrimSpace(reply[s.start+len(s.marker) : end])
	}

	story, hasStory := bodies[markers.Story]
	if !hasStory {
		return models.TurnResult{}, errMissingStoryMarker
	}
	optionsText, hasOptions := bodies[markers.Options]
	if !hasOptions {
		return models.TurnResult{}, errMissingOptionsMarker
	}
	if story == "" {
		return models.TurnResult{}, errEmptyStory
	}

	return models.TurnResult{
		NarrativeText: story,
		Options:       ParseOptions(optionsText),
		ImagePrompt:   NormalizeImagePrompt(bodies[markers.Image]),
		NewCharacter:  parseCharacterBlock(bodies[markers.Character]),
	}, nil
}

// ParseOptions splits a numbered option list into bare labels, dropping the
// numbering. Text without numbering is split by line.
func ParseOptions(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	matches := optionNumbering.FindAllStringSubmatchIndex(text, -1)
	starts := make([][2]int, 0, len(matches))
	for _, m := range matches {
		numStart, numEnd := numberingSpan(m)
		if numEnd < len(text) {
			if r, _ := utf8.DecodeRuneInString(text[numEnd:]); unicode.IsDigit(r) {
				continue
			}
		}
		starts = append(starts, [2]int{numStart, numEnd})
	}

	options := []string{}
	if len(starts) == 0 {
		for _, line := range strings.Split(text, "\n") {
			if label := CleanOptionLabel(line); label != "" {
				options = append(options, label)
			}
		}
		return options
	}

	for i, s := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		if label := CleanOptionLabel(text[s[1]:end]); label != "" {
			options = append(options, label)
		}
	}
	return options
}

// CleanOptionLabel strips bullets, numbering and surrounding punctuation
func CleanOptionLabel(label string) string {
	label = strings.Trim(label, labelCutset)
	label = strings.TrimLeft(label, "•·")
	if loc := optionNumbering.FindStringSubmatchIndex(label); loc != nil {
		if start, end := numberingSpan(loc); start == 0 {
			if end == len(label) {
				return ""
			}
			if r, _ := utf8.DecodeRuneInString(label[end:]); !unicode.IsDigit(r) {
				label = label[end:]
			}
		}
	}
	return strings.Trim(label, labelCutset)
}

// numberingSpan returns the numbering token of a match, without the separator
// that precedes it
func numberingSpan(m []int) (int, int) {
	for i := 2; i+1 < len(m); i += 2 {
		if m[i] >= 0 {
			return m[i], m[i+1]
		}
	}
	return m[0], m[1]
}

// NormalizeImagePrompt maps empty and explicit "no image" answers to ""
func NormalizeImagePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if noImageValues[strings.ToLower(prompt)] {
		return ""
	}
	return prompt
}

func parseCharacterBlock(block string) *models.CharacterCandidate {
	if strings.TrimSpace(block) == "" {
		return nil
	}

	var c models.CharacterCandidate
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• "))
		idx := strings.IndexAny(line, ":：")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		_, sepLen := utf8.DecodeRuneInString(line[idx:])
		value := strings.TrimSpace(line[idx+sepLen:])

		switch key {
		case "id":
			c.ID = value
		case "name", "名字", "姓名":
			c.Name = value
		case "desc", "description", "描述":
			c.Desc = value
		case "detail", "details", "详情":
			c.Detail = value
		case "event", "事件":
			c.Event = value
		}
	}
	return candidateOrNil(c)
}

func candidateOrNil(c models.CharacterCandidate) *models.CharacterCandidate {
	if strings.TrimSpace(c.ID) == "" && strings.TrimSpace(c.Name) == "" {
		return nil
	}
	return &c
}

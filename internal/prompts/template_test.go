package prompts

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRenderKeepsUnknownPlaceholders(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(&Template{Name: "t", Content: "{{a}} and {{b}}"})

	out, err := e.Render("t", Vars{"a": "x"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "x and {{b}}" {
		t.Errorf("Render() = %q", out)
	}
	if _, err := e.Render("missing", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestDefaultTemplatesExistForEveryLanguage(t *testing.T) {
	e := NewTemplateEngine()
	names := []string{
		TemplateTurnMarkers, TemplateTurnSchema, TemplateKnownCharacters, TemplateNoCharacters,
		TemplatePreviousStory, TemplateCurrentAction, TemplateOpeningAction, TemplateImageRefine, TemplateImageRefineUser,
		TemplateAvatarRefine, TemplateAvatarUser,
	}
	for _, lang := range []string{LangZH, LangEN} {
		for _, name := range names {
			if _, err := e.GetTemplate(Localized(name, lang)); err != nil {
				t.Errorf("%s/%s: %v", name, lang, err)
			}
		}
	}
}

func TestTurnMarkersTemplateMentionsMarkers(t *testing.T) {
	e := NewTemplateEngine()
	m := Markers("zh-CN")
	out, err := e.Render(Localized(TemplateTurnMarkers, "zh-CN"), Vars{
		"theme": "武侠", "style": "古风", "difficulty": "普通", "intro": "",
		"stage":        StageLabel("opening", "zh"),
		"story_marker": m.Story, "options_marker": m.Options,
		"image_marker": m.Image, "character_marker": m.Character,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"【剧情】", "【分支】", "【图片】", "【新角色】", "开场/介绍", "武侠"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt lacks %q", want)
		}
	}
	if strings.Contains(out, "{{") {
		t.Errorf("unrendered placeholder left in %q", out)
	}
}

func TestStageLabel(t *testing.T) {
	tests := []struct{ stage, lang, want string }{
		{"opening", "zh", "开场/介绍"},
		{"development", "zh", "发展/冲突"},
		{"climax", "zh", "高潮/转折"},
		{"resolution", "zh", "结局/收尾"},
		{"climax", "en", "climax / turning point"},
		{"unknown", "en", "unknown"},
	}
	for _, tt := range tests {
		if got := StageLabel(tt.stage, tt.lang); got != tt.want {
			t.Errorf("StageLabel(%q, %q) = %q, want %q", tt.stage, tt.lang, got, tt.want)
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	for in, want := range map[string]string{"zh": LangZH, "zh-TW": LangZH, "ZH": LangZH, "en": LangEN, "": LangEN, "fr": LangEN} {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	doc := `[{"name":"image_refine_en","content":"Draw {{subject}} in {{palette}}"}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewTemplateEngine()
	n, err := e.LoadOverrides(path)
	if err != nil || n != 1 {
		t.Fatalf("LoadOverrides() = %d, %v", n, err)
	}
	tmpl, _ := e.GetTemplate("image_refine_en")
	if !reflect.DeepEqual(tmpl.Variables, []string{"palette", "subject"}) {
		t.Errorf("variables = %v", tmpl.Variables)
	}

	if _, err := e.ImportTemplates([]byte(`[{"content":"x"}]`)); err == nil {
		t.Error("expected error for nameless template")
	}
}

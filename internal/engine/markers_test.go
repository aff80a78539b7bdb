package engine

import (
	"errors"
	"reflect"
	"testing"

	"AI-Adventure/server/internal/prompts"
)

func TestParseMarkedReplyZH(t *testing.T) {
	reply := `【剧情】
夜色笼罩着古城，你在城门前停下脚步。
【分支】
1. 推开城门 2. 绕到城墙后面 3. 原地等待
【图片】
月光下的古城门
【新角色】
- id: guard
- 名字: 老守卫
- desc: 满脸皱纹的守门人
- detail: 守了三十年城门
- 事件: 拦住了你`

	got, err := ParseMarkedReply(reply, prompts.Markers("zh"))
	if err != nil {
		t.Fatalf("ParseMarkedReply: %v", err)
	}
	if got.NarrativeText != "夜色笼罩着古城，你在城门前停下脚步。" {
		t.Errorf("story = %q", got.NarrativeText)
	}
	if want := []string{"推开城门", "绕到城墙后面", "原地等待"}; !reflect.DeepEqual(got.Options, want) {
		t.Errorf("options = %q, want %q", got.Options, want)
	}
	if got.ImagePrompt != "月光下的古城门" {
		t.Errorf("image = %q", got.ImagePrompt)
	}
	c := got.NewCharacter
	if c == nil || c.ID != "guard" || c.Name != "老守卫" || c.Desc != "满脸皱纹的守门人" || c.Event != "拦住了你" {
		t.Errorf("character = %+v", c)
	}
}

func TestParseMarkedReplyEN(t *testing.T) {
	reply := "[STORY] The tide is out.\n[OPTIONS]\nA. Walk the sand\nB. Wait for the boat\n[IMAGE] none"

	got, err := ParseMarkedReply(reply, prompts.Markers("en"))
	if err != nil {
		t.Fatalf("ParseMarkedReply: %v", err)
	}
	if want := []string{"Walk the sand", "Wait for the boat"}; !reflect.DeepEqual(got.Options, want) {
		t.Errorf("options = %q", got.Options)
	}
	if got.ImagePrompt != "" {
		t.Errorf("image = %q, want none", got.ImagePrompt)
	}
	if got.NewCharacter != nil {
		t.Errorf("character = %+v", got.NewCharacter)
	}
}

func TestParseMarkedReplyFailures(t *testing.T) {
	zh := prompts.Markers("zh")
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"no story", "【分支】1. 走", errMissingStoryMarker},
		{"no options", "【剧情】你醒了。", errMissingOptionsMarker},
		{"empty story", "【剧情】\n【分支】1. 走", errEmptyStory},
		{"plain text", "从前有座山", errMissingStoryMarker},
	}
	for _, tt := range tests {
		if _, err := ParseMarkedReply(tt.reply, zh); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestParseMarkedReplyEmptyImageIsNone(t *testing.T) {
	got, err := ParseMarkedReply("【剧情】雨停了。【分支】1. 出门【图片】", prompts.Markers("zh"))
	if err != nil {
		t.Fatalf("ParseMarkedReply: %v", err)
	}
	if got.ImagePrompt != "" {
		t.Errorf("image = %q", got.ImagePrompt)
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"1. 向左 2. 向右", []string{"向左", "向右"}},
		{"1.向左\n2.向右\n3.后退", []string{"向左", "向右", "后退"}},
		{"1、喝茶 2、离开", []string{"喝茶", "离开"}},
		{"①开门②关门", []string{"开门", "关门"}},
		{"一、进山 二、下山", []string{"进山", "下山"}},
		{"**1.** Fight\n**2.** Flee", []string{"Fight", "Flee"}},
		{"1) Buy 10 arrows 2) Leave", []string{"Buy 10 arrows", "Leave"}},
		{"- Fight\n- Flee", []string{"Fight", "Flee"}},
		{"Pay 2.5 coins\nLeave", []string{"Pay 2.5 coins", "Leave"}},
		{"A. Walk\nB) Wait", []string{"Walk", "Wait"}},
		{"**C.** Swim", []string{"Swim"}},
		{"1. Open door B. 2. Open door C.", []string{"Open door B.", "Open door C."}},
		{"1. Take vitamin C. 2. Rest", []string{"Take vitamin C.", "Rest"}},
		{"1. Follow Plan A) now\n2. Hide", []string{"Follow Plan A) now", "Hide"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := ParseOptions(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseOptions(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMarkedReplyKeepsLetterInLabel(t *testing.T) {
	reply := "[STORY] Two doors face you.\n[OPTIONS]\n1. Open door A.\n2. Open door B.\n[IMAGE] none"
	got, err := ParseMarkedReply(reply, prompts.Markers("en"))
	if err != nil {
		t.Fatalf("ParseMarkedReply: %v", err)
	}
	if want := []string{"Open door A.", "Open door B."}; !reflect.DeepEqual(got.Options, want) {
		t.Errorf("options = %q, want %q", got.Options, want)
	}
}

func TestNormalizeImagePrompt(t *testing.T) {
	for _, in := range []string{"", "  ", "无", "None", "N/A"} {
		if got := NormalizeImagePrompt(in); got != "" {
			t.Errorf("NormalizeImagePrompt(%q) = %q", in, got)
		}
	}
	if got := NormalizeImagePrompt(" a lantern "); got != "a lantern" {
		t.Errorf("got %q", got)
	}
}

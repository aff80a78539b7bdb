package models

import (
	"strings"
	"testing"
)

func logWith(texts ...string) TurnLog {
	var l TurnLog
	for i, text := range texts {
		action := "act"
		if i == 0 {
			action = InitialAction
		}
		l.Append(TurnRecord{PlayerAction: action, NarrativeText: text})
	}
	return l
}

func TestTurnLogAppend(t *testing.T) {
	var l TurnLog
	if _, ok := l.Latest(); ok {
		t.Fatal("empty log should have no latest turn")
	}

	options := []string{"left", "right"}
	idx := l.Append(TurnRecord{PlayerAction: InitialAction, NarrativeText: "a", Options: options})
	if idx != 0 {
		t.Fatalf("first index = %d, want 0", idx)
	}
	options[0] = "mutated"

	latest, ok := l.Latest()
	if !ok {
		t.Fatal("expected latest turn")
	}
	if latest.Options[0] != "left" {
		t.Errorf("append must copy options, got %q", latest.Options[0])
	}
	if latest.ImageStatus != ImageNone {
		t.Errorf("default image status = %q, want none", latest.ImageStatus)
	}
	if got := l.Append(TurnRecord{NarrativeText: "b"}); got != 1 {
		t.Errorf("second index = %d, want 1", got)
	}
}

func TestTurnLogFullText(t *testing.T) {
	l := logWith("one", "two", "three")
	if got, want := l.FullText(), "one\ntwo\nthree"; got != want {
		t.Errorf("FullText() = %q, want %q", got, want)
	}
	if got := (TurnLog{}).FullText(); got != "" {
		t.Errorf("empty FullText() = %q", got)
	}
}

func TestTurnLogRecentNarrative(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		n     int
		want  []string
	}{
		{"empty", nil, 3, []string{}},
		{"only latest", []string{"a"}, 3, []string{}},
		{"one prior", []string{"a", "b"}, 3, []string{"a"}},
		{"window", []string{"a", "b", "c", "d", "e"}, 3, []string{"b", "c", "d"}},
		{"exact", []string{"a", "b", "c", "d"}, 3, []string{"a", "b", "c"}},
		{"zero", []string{"a", "b"}, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := logWith(tt.texts...)
			got := l.RecentNarrative(tt.n)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("RecentNarrative(%d) = %v, want %v", tt.n, got, tt.want)
			}
			if len(tt.texts) > 0 {
				latest := tt.texts[len(tt.texts)-1]
				for _, text := range got {
					if text == latest {
						t.Errorf("recent narrative includes the latest turn %q", latest)
					}
				}
			}
		})
	}
}

func TestTurnLogPlayerActions(t *testing.T) {
	var l TurnLog
	for _, action := range []string{"initial", "a", "b", "c", "d", "e", "f"} {
		l.Append(TurnRecord{PlayerAction: action})
	}
	got := l.PlayerActions(5)
	want := []string{"b", "c", "d", "e", "f"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("PlayerActions(5) = %v, want %v", got, want)
	}
}

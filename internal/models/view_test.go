package models

import "testing"

func TestViewEmptySession(t *testing.T) {
	v := View(newTestSession(true))
	if v.ImageStatus != ImageNone || v.Options == nil || v.Turn != 0 {
		t.Errorf("empty view = %+v", v)
	}
}

func TestViewProjectsCurrentTurn(t *testing.T) {
	s := newTestSession(true)
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		result := TurnResult{NarrativeText: text, Options: []string{"x", "y"}}
		if i == 4 {
			result.ImagePrompt = "a bridge"
		}
		s.CommitTurn("act", result, nil, testPlaceholder)
	}

	v := View(s)
	if v.NarrativeText != "five" {
		t.Errorf("narrative = %q", v.NarrativeText)
	}
	if want := "two\n\nthree\n\nfour"; v.RecapText != want {
		t.Errorf("recap = %q, want %q", v.RecapText, want)
	}
	if want := "one\ntwo\nthree\nfour\nfive"; v.FullText != want {
		t.Errorf("full text = %q, want %q", v.FullText, want)
	}
	if v.ImageStatus != ImagePending || v.ImageURL != "" {
		t.Errorf("image = %q %q", v.ImageStatus, v.ImageURL)
	}
	if len(v.Options) != 2 || v.Turn != 5 {
		t.Errorf("options = %v, turn = %d", v.Options, v.Turn)
	}
}

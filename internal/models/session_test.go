package models

import (
	"fmt"
	"strings"
	"testing"
)

const testPlaceholder = "/api/placeholder/800/400"

func newTestSession(images bool) *Session {
	return NewSession("s1", Settings{Theme: "fantasy"}, "en", images, "sk-secret-key")
}

func TestSecretNeverPrints(t *testing.T) {
	s := newTestSession(false)
	for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
		out := fmt.Sprintf(format, s)
		if strings.Contains(out, "sk-secret-key") {
			t.Errorf("%s leaked the api key: %s", format, out)
		}
	}
	if s.APIKey.Value() != "sk-secret-key" {
		t.Error("Value() must return the raw credential")
	}
}

func TestCommitTurnWithoutImage(t *testing.T) {
	s := newTestSession(true)
	idx := s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", Options: []string{"a"}}, nil, testPlaceholder)
	if idx != 0 || !s.Started() {
		t.Fatalf("index = %d, started = %v", idx, s.Started())
	}
	if s.Turns[0].ImageStatus != ImageNone {
		t.Errorf("status = %q, want none", s.Turns[0].ImageStatus)
	}
	if _, _, ok := s.TakePendingImage(); ok {
		t.Error("no pending image expected")
	}
}

func TestCommitTurnImagesDisabled(t *testing.T) {
	s := newTestSession(false)
	s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", ImagePrompt: "a castle"}, nil, testPlaceholder)
	if s.Turns[0].ImageStatus != ImageNone {
		t.Errorf("status = %q, want none", s.Turns[0].ImageStatus)
	}
	if s.PendingImagePrompt != "" {
		t.Error("pending prompt must stay empty when images are disabled")
	}
}

func TestImageLifecycle(t *testing.T) {
	s := newTestSession(true)
	s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", ImagePrompt: "a castle"}, nil, testPlaceholder)
	if s.Turns[0].ImageStatus != ImagePending {
		t.Fatalf("status = %q, want pending", s.Turns[0].ImageStatus)
	}

	prompt, turn, ok := s.TakePendingImage()
	if !ok || prompt != "a castle" || turn != 0 {
		t.Fatalf("TakePendingImage() = %q, %d, %v", prompt, turn, ok)
	}
	if _, _, ok := s.TakePendingImage(); ok {
		t.Fatal("second take must observe no pending prompt")
	}
	if !s.ResolveImage(turn, "/images/abc.png") {
		t.Fatal("resolve should apply to a pending turn")
	}
	if s.Turns[0].ImageStatus != ImageReady || s.Turns[0].ImageURL != "/images/abc.png" {
		t.Errorf("turn = %+v", s.Turns[0])
	}
	if s.FailImage(turn, testPlaceholder) {
		t.Error("a ready turn must not be failed afterwards")
	}
}

func TestFailImage(t *testing.T) {
	s := newTestSession(true)
	s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", ImagePrompt: "a castle"}, nil, testPlaceholder)
	_, turn, _ := s.TakePendingImage()
	if !s.FailImage(turn, testPlaceholder) {
		t.Fatal("fail should apply to a pending turn")
	}
	if s.Turns[0].ImageStatus != ImageFailed || s.Turns[0].ImageURL != testPlaceholder {
		t.Errorf("turn = %+v", s.Turns[0])
	}
	if s.ResolveImage(turn, "/images/late.png") {
		t.Error("a failed turn must not be resolved afterwards")
	}
}

func TestCommitSupersedesPendingImage(t *testing.T) {
	s := newTestSession(true)
	s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", ImagePrompt: "a castle"}, nil, testPlaceholder)
	s.CommitTurn("go", TurnResult{NarrativeText: "noon"}, nil, testPlaceholder)

	if s.Turns[0].ImageStatus != ImageFailed || s.Turns[0].ImageURL != testPlaceholder {
		t.Errorf("superseded turn = %+v", s.Turns[0])
	}
	if _, _, ok := s.TakePendingImage(); ok {
		t.Error("superseded prompt must be dropped")
	}
}

func TestHealImageDesync(t *testing.T) {
	s := newTestSession(true)
	s.CommitTurn(InitialAction, TurnResult{NarrativeText: "dawn", ImagePrompt: "a castle"}, nil, testPlaceholder)
	if s.HealImageDesync(testPlaceholder) {
		t.Fatal("a tracked pending turn is not a desync")
	}

	s.PendingImagePrompt = ""
	s.PendingImageTurn = -1
	if !s.HealImageDesync(testPlaceholder) {
		t.Fatal("pending turn without prompt should heal")
	}
	if s.Turns[0].ImageStatus != ImageFailed || s.Turns[0].ImageURL != testPlaceholder {
		t.Errorf("healed turn = %+v", s.Turns[0])
	}
	if s.HealImageDesync(testPlaceholder) {
		t.Error("heal must be a no-op once resolved")
	}
}

func TestCommitTurnMergesCharacter(t *testing.T) {
	s := newTestSession(false)
	s.CommitTurn(InitialAction, TurnResult{
		NarrativeText: "dawn",
		NewCharacter:  &CharacterCandidate{ID: "c1", Name: "Mira", Desc: "scout", Event: "appeared"},
	}, func(string) string { return "/avatar.png" }, testPlaceholder)
	s.CommitTurn("wave", TurnResult{
		NarrativeText: "noon",
		NewCharacter:  &CharacterCandidate{ID: "c1", Event: "waved"},
	}, nil, testPlaceholder)

	if s.Characters.Len() != 1 {
		t.Fatalf("characters = %d, want 1", s.Characters.Len())
	}
	c, _ := s.Characters.Get("c1")
	if len(c.Events) != 2 || c.Events[0] != "appeared" || c.Events[1] != "waved" {
		t.Errorf("events = %v", c.Events)
	}
	if c.Avatar != "/avatar.png" {
		t.Errorf("avatar = %q", c.Avatar)
	}
}

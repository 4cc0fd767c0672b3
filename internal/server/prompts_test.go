package server

import (
	"strings"
	"testing"
)

func TestBuildConversationPromptEmbedsModeAndText(t *testing.T) {
	mode := getAnalysisModeConfig("frio_analitico")
	prompt := buildConversationPrompt("hola, ¿como estas?", mode)

	if !strings.Contains(prompt, mode.Name) {
		t.Fatalf("expected prompt to contain mode name %q", mode.Name)
	}
	if !strings.Contains(prompt, mode.PromptTone) {
		t.Fatalf("expected prompt to contain mode tone")
	}
	if !strings.Contains(prompt, "hola, ¿como estas?") {
		t.Fatalf("expected prompt to contain chat text")
	}
	for _, flag := range allowedManipulationFlags {
		if !strings.Contains(prompt, flag) {
			t.Fatalf("expected prompt to list allowed flag %q", flag)
		}
	}
	if !strings.Contains(prompt, `"verdict": string`) {
		t.Fatalf("expected prompt to describe the response shape")
	}
}

func TestBuildConversationSystemPromptAdoptsTone(t *testing.T) {
	mode := getAnalysisModeConfig("sin_filtros")
	system := buildConversationSystemPrompt(mode)
	if !strings.Contains(system, mode.Name) || !strings.Contains(system, mode.PromptTone) {
		t.Fatalf("expected system prompt to carry mode name and tone, got %q", system)
	}
}

func TestBuildRelationshipPromptListsBadgesAndAnswers(t *testing.T) {
	prompt := buildRelationshipPrompt("who_starts_chat: yo")
	for _, badge := range allowedBadges {
		if !strings.Contains(prompt, badge) {
			t.Fatalf("expected prompt to list badge %q", badge)
		}
	}
	if !strings.Contains(prompt, "who_starts_chat: yo") {
		t.Fatalf("expected prompt to contain flattened answers")
	}
}

func TestAnswersToTextOrdering(t *testing.T) {
	answers := map[string]any{
		"zz_extra":          "algo",
		"post_chat_feeling": "ansioso",
		"who_starts_chat":   "yo",
		"aa_extra":          42,
	}

	got := answersToText(answers)
	want := strings.Join([]string{
		"who_starts_chat: yo",
		"post_chat_feeling: ansioso",
		"aa_extra: 42",
		"zz_extra: algo",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected flattening:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestAnswersToTextDeterministic(t *testing.T) {
	answers := map[string]any{
		"response_time":      "horas",
		"interest_balance":   "si",
		"who_starts_chat":    "yo",
		"plan_cancellations": "a_veces",
		"custom_b":           "b",
		"custom_a":           "a",
	}
	first := answersToText(answers)
	for i := 0; i < 20; i++ {
		if got := answersToText(answers); got != first {
			t.Fatalf("expected deterministic output, run %d differed", i)
		}
	}
}

func TestAnswersToTextEmpty(t *testing.T) {
	if got := answersToText(nil); got != "" {
		t.Fatalf("expected empty string for nil answers, got %q", got)
	}
	if got := answersToText(map[string]any{}); got != "" {
		t.Fatalf("expected empty string for empty answers, got %q", got)
	}
}

package server

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	maxEmotionalToneRunes  = 160
	maxVerdictRunes        = 700
	maxDiagnosisRunes      = 900
	maxRecommendationRunes = 400
	maxHighlightRunes      = 220
	maxFlagCount           = 5
)

const (
	defaultEmotionalTone  = "Ambiguo"
	defaultVerdict        = "No se pudo generar un veredicto claro."
	defaultDiagnosis      = "No se pudo generar un diagnostico claro."
	defaultRecommendation = "Habla con claridad y evalua coherencia entre palabras y acciones."
	defaultHighlight      = "Tu energia emocional merece reciprocidad real."
)

type ConversationAnalysisResult struct {
	InterestScore     int      `json:"interestScore"`
	HonestyScore      int      `json:"honestyScore"`
	EmotionalTone     string   `json:"emotionalTone"`
	ManipulationFlags []string `json:"manipulationFlags"`
	Verdict           string   `json:"verdict"`
	AnalysisMode      string   `json:"analysisMode"`
}

type RelationshipCheckResult struct {
	Diagnosis        string   `json:"diagnosis"`
	ReciprocityLevel int      `json:"reciprocityLevel"`
	RedFlags         []string `json:"redFlags"`
	InterestScore    int      `json:"interestScore"`
	Recommendation   string   `json:"recommendation"`
	Badge            string   `json:"badge"`
	Highlight        string   `json:"highlight"`
	AnalysisMode     string   `json:"analysisMode"`
}

// normalizeConversationResult coerces whatever the model produced into the
// bounded response contract. It is total: missing, wrong-typed, and
// out-of-range fields fall back to defaults instead of failing.
func normalizeConversationResult(payload map[string]any, modeID string) ConversationAnalysisResult {
	return ConversationAnalysisResult{
		InterestScore:     clampScore(payload["interestScore"]),
		HonestyScore:      clampScore(payload["honestyScore"]),
		EmotionalTone:     boundedString(payload["emotionalTone"], defaultEmotionalTone, maxEmotionalToneRunes),
		ManipulationFlags: normalizeManipulationFlags(payload["manipulationFlags"]),
		Verdict:           boundedString(payload["verdict"], defaultVerdict, maxVerdictRunes),
		AnalysisMode:      modeID,
	}
}

func normalizeRelationshipResult(payload map[string]any) RelationshipCheckResult {
	reciprocityLevel := clampScore(payload["reciprocityLevel"])

	interestScore := reciprocityLevel
	if raw, ok := payload["interestScore"]; ok && raw != nil {
		interestScore = clampScore(raw)
	}

	badge := strings.TrimSpace(toStringValue(payload["badge"]))
	if badge == "" {
		badge = deriveBadge(reciprocityLevel)
	}

	return RelationshipCheckResult{
		Diagnosis:        boundedString(payload["diagnosis"], defaultDiagnosis, maxDiagnosisRunes),
		ReciprocityLevel: reciprocityLevel,
		RedFlags:         normalizeRedFlags(payload["redFlags"]),
		InterestScore:    interestScore,
		Recommendation:   boundedString(payload["recommendation"], defaultRecommendation, maxRecommendationRunes),
		Badge:            badge,
		Highlight:        boundedString(payload["highlight"], defaultHighlight, maxHighlightRunes),
		AnalysisMode:     relationshipModeID,
	}
}

func deriveBadge(reciprocityLevel int) string {
	switch {
	case reciprocityLevel >= 75:
		return allowedBadges[0]
	case reciprocityLevel >= 45:
		return allowedBadges[1]
	default:
		return allowedBadges[2]
	}
}

// clampScore parses value as a number, rounds it and clamps into [0,100].
// Anything that is not a number collapses to 0.
func clampScore(value any) int {
	parsed, ok := toNumber(value)
	if !ok || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	rounded := int(math.Round(parsed))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toStringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func boundedString(value any, fallback string, maxRunes int) string {
	text := toStringValue(value)
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	return truncateRunes(text, maxRunes)
}

// truncateRunes is a hard slice, not word-aware.
func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

// normalizeManipulationFlags keeps only exact whitelist labels, preserving
// order, capped to maxFlagCount by prefix.
func normalizeManipulationFlags(value any) []string {
	items, ok := value.([]any)
	result := make([]string, 0, maxFlagCount)
	if !ok {
		return result
	}
	for _, item := range items {
		flag := strings.TrimSpace(toStringValue(item))
		if !isAllowedManipulationFlag(flag) {
			continue
		}
		result = append(result, flag)
		if len(result) == maxFlagCount {
			break
		}
	}
	return result
}

func isAllowedManipulationFlag(flag string) bool {
	for _, allowed := range allowedManipulationFlags {
		if flag == allowed {
			return true
		}
	}
	return false
}

// normalizeRedFlags is the free-form counterpart: any non-empty trimmed
// string survives, capped to maxFlagCount.
func normalizeRedFlags(value any) []string {
	items, ok := value.([]any)
	result := make([]string, 0, maxFlagCount)
	if !ok {
		return result
	}
	for _, item := range items {
		flag := strings.TrimSpace(toStringValue(item))
		if flag == "" {
			continue
		}
		result = append(result, flag)
		if len(result) == maxFlagCount {
			break
		}
	}
	return result
}

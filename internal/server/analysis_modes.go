package server

import "strings"

const defaultAnalysisModeID = "brutal_honesto"

// relationshipModeID is the persona every relationship check reports back,
// no matter which mode the request asked for.
const relationshipModeID = "modo_terapeuta"

type analysisMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PromptTone  string `json:"promptTone"`
}

var analysisModes = map[string]analysisMode{
	"brutal_honesto": {
		ID:          "brutal_honesto",
		Name:        "Brutalmente honesto",
		Description: "Directo, claro y sin suavizar la verdad.",
		PromptTone:  "Habla como un amigo brutalmente honesto pero empatico. Di verdades incomodas con respeto, sin rodeos ni tecnicismos frios.",
	},
	"modo_terapeuta": {
		ID:          "modo_terapeuta",
		Name:        "Modo terapeuta",
		Description: "Empatico, reflexivo y emocionalmente inteligente.",
		PromptTone:  "Habla con calidez y empatia terapeutica. Ayuda a comprender emociones y patrones sin juzgar ni diagnosticar.",
	},
	"sin_filtros": {
		ID:          "sin_filtros",
		Name:        "Sin filtros",
		Description: "Crudo, provocador y viral, pero sin ser ofensivo.",
		PromptTone:  "Habla con tono crudo, provocador y viral, pero nunca ofensivo. Prioriza impacto emocional y claridad inmediata.",
	},
	"frio_analitico": {
		ID:          "frio_analitico",
		Name:        "Frio analitico",
		Description: "Objetivo, logico y basado en patrones.",
		PromptTone:  "Habla con estilo objetivo y logico. Enfocate en patrones observables y conclusiones concretas, sin drama innecesario.",
	},
}

// getAnalysisModeConfig never fails: unknown or empty ids resolve to the
// default mode so a client typo degrades the tone, not the request.
func getAnalysisModeConfig(modeID string) analysisMode {
	if mode, ok := analysisModes[strings.TrimSpace(modeID)]; ok {
		return mode
	}
	return analysisModes[defaultAnalysisModeID]
}

var allowedManipulationFlags = []string{
	"Posible ghosting",
	"Posible gaslighting",
	"Baja reciprocidad emocional",
	"Manipulacion emocional potencial",
	"Senales emocionales mixtas",
}

var allowedBadges = []string{
	"Interes mutuo",
	"Zona de confusion",
	"Relacion desequilibrada",
}

type relationshipQuestionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type relationshipQuestion struct {
	ID      string                       `json:"id"`
	Prompt  string                       `json:"prompt"`
	Options []relationshipQuestionOption `json:"options"`
}

// relationshipQuestions defines the guided test and, through its order, the
// order answers are flattened into the prompt.
var relationshipQuestions = []relationshipQuestion{
	{
		ID:     "who_starts_chat",
		Prompt: "¿Quien escribe primero la mayoria de las veces?",
		Options: []relationshipQuestionOption{
			{ID: "yo", Label: "Yo"},
			{ID: "otra_persona", Label: "La otra persona"},
			{ID: "equilibrado", Label: "50/50"},
		},
	},
	{
		ID:     "response_time",
		Prompt: "¿Cuanto tarda en responder normalmente?",
		Options: []relationshipQuestionOption{
			{ID: "minutos", Label: "Minutos"},
			{ID: "horas", Label: "Horas"},
			{ID: "dias", Label: "A veces dias"},
		},
	},
	{
		ID:     "plan_cancellations",
		Prompt: "¿Con que frecuencia cancelan planes?",
		Options: []relationshipQuestionOption{
			{ID: "nunca", Label: "Nunca"},
			{ID: "a_veces", Label: "A veces"},
			{ID: "frecuente", Label: "Frecuente"},
		},
	},
	{
		ID:     "interest_balance",
		Prompt: "¿Sientes que muestras mas interes?",
		Options: []relationshipQuestionOption{
			{ID: "si", Label: "Si"},
			{ID: "no", Label: "No"},
			{ID: "duda", Label: "No estoy seguro/a"},
		},
	},
	{
		ID:     "post_chat_feeling",
		Prompt: "¿Como te sientes despues de hablar con esa persona?",
		Options: []relationshipQuestionOption{
			{ID: "bien", Label: "Bien"},
			{ID: "neutral", Label: "Neutral"},
			{ID: "ansioso", Label: "Ansioso/a"},
		},
	},
}

package server

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxChatTextRunes       = 6000
	maxAnswersSummaryRunes = 4000
)

const relationshipSystemPrompt = "Eres un analista emocional experto en dinamicas de relacion. Habla con empatia, claridad y honestidad. Evita respuestas genericas y no diagnostiques."

const conversationPromptTemplate = `Analiza la siguiente conversacion y responde SOLO JSON valido.

Objetivo:
- Detectar: ghosting, gaslighting, desinteres, manipulacion emocional, senales mixtas.

Personalidad seleccionada:
- %s: %s
- Instruccion de tono: %s

Reglas:
- interestScore y honestyScore: enteros 0-100.
- emotionalTone: frase corta en espanol (max 12 palabras), emocional y clara.
- manipulationFlags: solo etiquetas exactas de esta lista:
  1) Posible ghosting
  2) Posible gaslighting
  3) Baja reciprocidad emocional
  4) Manipulacion emocional potencial
  5) Senales emocionales mixtas
- verdict: 2 a 4 frases segun la personalidad seleccionada.
- verdict: humano, claro y util; evita lenguaje robotico.
- verdict: incluye 1 consejo concreto y realista para el siguiente paso.
- Si la evidencia es debil, usa pocos flags o ninguno.

JSON esperado:
{
  "interestScore": number,
  "honestyScore": number,
  "emotionalTone": string,
  "manipulationFlags": string[],
  "verdict": string
}

Conversacion:
"""
%s
"""`

const relationshipPromptTemplate = `Analiza este test guiado sobre dinamica de pareja y responde SOLO JSON valido.

Objetivo:
- Dar un diagnostico emocional humano, directo y empatico.
- Detectar reciprocidad, consistencia y red flags.

Reglas:
- reciprocityLevel e interestScore: enteros 0-100.
- diagnosis: 3-5 frases utiles y aterrizadas.
- redFlags: lista corta de alertas puntuales (si hay).
- recommendation: una recomendacion clara y accionable.
- badge: solo uno de:
  1) Interes mutuo
  2) Zona de confusion
  3) Relacion desequilibrada
- highlight: frase corta, compartible y memorable.
- No diagnostiques salud mental.
- No uses lenguaje ofensivo.

JSON esperado:
{
  "diagnosis": string,
  "reciprocityLevel": number,
  "redFlags": string[],
  "interestScore": number,
  "recommendation": string,
  "badge": string,
  "highlight": string
}

Respuestas del test:
"""
%s
"""`

// buildConversationPrompt embeds the already-truncated chat text; truncation
// is the handler's job, never the builder's.
func buildConversationPrompt(chatText string, mode analysisMode) string {
	return fmt.Sprintf(conversationPromptTemplate, mode.Name, mode.Description, mode.PromptTone, chatText)
}

func buildConversationSystemPrompt(mode analysisMode) string {
	return fmt.Sprintf(
		"Eres un analista emocional experto. Adapta todo tu tono al modo seleccionado: %s. %s. Basate en evidencia textual y no inventes hechos ni diagnostiques.",
		mode.Name,
		mode.PromptTone,
	)
}

func buildRelationshipPrompt(answersText string) string {
	return fmt.Sprintf(relationshipPromptTemplate, answersText)
}

// answersToText flattens the questionnaire answers to "id: value" lines in
// guided-test order, then any unknown keys sorted, so the same answers always
// produce the same prompt.
func answersToText(answers map[string]any) string {
	if len(answers) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(answers))
	lines := make([]string, 0, len(answers))
	appendLine := func(key string) {
		raw, ok := answers[key]
		if !ok {
			return
		}
		seen[key] = struct{}{}
		lines = append(lines, key+": "+strings.TrimSpace(toStringValue(raw)))
	}

	for _, question := range relationshipQuestions {
		appendLine(question.ID)
	}

	rest := make([]string, 0, len(answers))
	for key := range answers {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		appendLine(key)
	}

	return strings.Join(lines, "\n")
}

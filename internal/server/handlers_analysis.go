package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type analyzeRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type relationshipCheckRequest struct {
	Answers map[string]any `json:"answers"`
}

func (a *App) analyzeConversation(c *gin.Context) {
	var payload analyzeRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "Debes enviar texto para analizar.")
		return
	}
	inputText := strings.TrimSpace(payload.Text)
	if inputText == "" {
		writeError(c, http.StatusBadRequest, "Debes enviar texto para analizar.")
		return
	}
	limitedText := truncateRunes(inputText, maxChatTextRunes)
	mode := getAnalysisModeConfig(payload.Mode)

	user, hasUser := authUserFromContext(c)
	now := time.Now().UTC()
	if hasUser && !a.preflightQuota(c, user, now) {
		return
	}

	aiResponse, err := a.ai.Complete(c.Request.Context(), AIModelRequest{
		SystemPrompt: buildConversationSystemPrompt(mode),
		UserPrompt:   buildConversationPrompt(limitedText, mode),
	})
	if err != nil {
		a.refundQuotaOnFailure(c.Request.Context(), user, hasUser, now)
		writeAnalysisError(c, err)
		return
	}

	parsed, ok := parseModelJSON(aiResponse.RawContent)
	if !ok {
		a.refundQuotaOnFailure(c.Request.Context(), user, hasUser, now)
		writeError(c, http.StatusBadGateway, "La respuesta de IA no llego en formato JSON valido.")
		return
	}

	result := normalizeConversationResult(parsed, mode.ID)
	if hasUser {
		if err := a.recordAnalysisLog(
			c.Request.Context(),
			user.ID,
			analysisKindConversation,
			mode.ID,
			result,
			len([]rune(limitedText)),
		); err != nil {
			log.Printf("analysis log write failed user_id=%s kind=%s err=%v", user.ID, analysisKindConversation, err)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (a *App) relationshipCheck(c *gin.Context) {
	var payload relationshipCheckRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "Debes enviar respuestas del test.")
		return
	}
	answersText := answersToText(payload.Answers)
	if strings.TrimSpace(answersText) == "" {
		writeError(c, http.StatusBadRequest, "Debes enviar respuestas del test.")
		return
	}
	limitedAnswers := truncateRunes(answersText, maxAnswersSummaryRunes)

	user, hasUser := authUserFromContext(c)
	now := time.Now().UTC()
	if hasUser && !a.preflightQuota(c, user, now) {
		return
	}

	aiResponse, err := a.ai.Complete(c.Request.Context(), AIModelRequest{
		SystemPrompt: relationshipSystemPrompt,
		UserPrompt:   buildRelationshipPrompt(limitedAnswers),
	})
	if err != nil {
		a.refundQuotaOnFailure(c.Request.Context(), user, hasUser, now)
		writeAnalysisError(c, err)
		return
	}

	parsed, ok := parseModelJSON(aiResponse.RawContent)
	if !ok {
		a.refundQuotaOnFailure(c.Request.Context(), user, hasUser, now)
		writeError(c, http.StatusBadGateway, "La respuesta de IA no llego en formato JSON valido.")
		return
	}

	result := normalizeRelationshipResult(parsed)
	if hasUser {
		if err := a.recordAnalysisLog(
			c.Request.Context(),
			user.ID,
			analysisKindRelationship,
			relationshipModeID,
			result,
			len([]rune(limitedAnswers)),
		); err != nil {
			log.Printf("analysis log write failed user_id=%s kind=%s err=%v", user.ID, analysisKindRelationship, err)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (a *App) getRelationshipQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":          "relationship_check_v1",
		"name":        "Analizar mi relacion actual",
		"description": "Test guiado para medir reciprocidad, consistencia emocional y red flags.",
		"questions":   relationshipQuestions,
	})
}

// preflightQuota consumes one daily use for authenticated callers. It writes
// the 429 itself and returns false when the free limit is spent.
func (a *App) preflightQuota(c *gin.Context, user AuthUser, now time.Time) bool {
	snapshot, err := a.consumeQuotaUse(c.Request.Context(), user, now)
	if errors.Is(err, errFreeLimitReached) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "Limite diario alcanzado. Mejora a Pro para seguir analizando.",
			"quota": quotaMap(snapshot),
		})
		return false
	}
	if err != nil {
		log.Printf("quota preflight failed user_id=%s err=%v", user.ID, err)
		writeError(c, http.StatusInternalServerError, "No se pudo validar tu cuota diaria.")
		return false
	}
	return true
}

func (a *App) refundQuotaOnFailure(ctx context.Context, user AuthUser, hasUser bool, now time.Time) {
	if !hasUser {
		return
	}
	if err := a.releaseQuotaUse(ctx, user, now); err != nil {
		log.Printf("quota release failed user_id=%s err=%v", user.ID, err)
	}
}

// parseModelJSON treats unparseable content as a hard failure while still
// tolerating well-formed JSON that is not an object (defaulted downstream).
func parseModelJSON(rawContent string) (map[string]any, bool) {
	var parsed any
	if err := json.Unmarshal([]byte(rawContent), &parsed); err != nil {
		return nil, false
	}
	payload, ok := parsed.(map[string]any)
	if !ok {
		payload = map[string]any{}
	}
	return payload, true
}

func quotaMap(snapshot quotaSnapshot) gin.H {
	if snapshot.Unlimited {
		return gin.H{
			"plan":      snapshot.Plan,
			"used":      0,
			"limit":     nil,
			"remaining": nil,
		}
	}
	return gin.H{
		"plan":      snapshot.Plan,
		"used":      snapshot.Used,
		"limit":     snapshot.Limit,
		"remaining": snapshot.remaining(),
	}
}

func writeAnalysisError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, errMissingAPIKey) {
		writeError(c, http.StatusServiceUnavailable, "OPENAI_API_KEY no configurada.")
		return
	}
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		writeError(c, http.StatusBadGateway, "OpenAI error: "+statusErr.Excerpt)
		return
	}
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		writeError(c, http.StatusBadGateway, "El servicio de analisis tardo demasiado en responder.")
		return
	}
	if errors.As(err, &urlErr) {
		writeError(c, http.StatusBadGateway, "No se pudo contactar el servicio de analisis.")
		return
	}
	log.Printf("analysis failed unclassified err=%v", err)
	writeError(c, http.StatusInternalServerError, "Error inesperado al analizar.")
}

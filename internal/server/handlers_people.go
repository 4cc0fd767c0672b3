package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultHistoryLimit = 8
	maxHistoryLimit     = 50
	savedPeopleLimit    = 50
	personDetailLimit   = 40
)

type savePersonRequest struct {
	Name     string         `json:"name"`
	ChatText string         `json:"chatText"`
	Result   map[string]any `json:"result"`
}

func (a *App) getHistory(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "No autorizado.")
		return
	}
	limit := parseLimitQuery(c.Query("limit"), defaultHistoryLimit, maxHistoryLimit)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, kind, "analysisMode", "resultJson", "inputChars", "createdAt"
		 FROM "AnalysisLog"
		 WHERE "userId" = $1
		 ORDER BY "createdAt" DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo cargar tu historial.")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, limit)
	for rows.Next() {
		var id, kind, analysisMode string
		var resultRaw []byte
		var inputChars int
		var createdAt time.Time
		if err := rows.Scan(&id, &kind, &analysisMode, &resultRaw, &inputChars, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "No se pudo leer tu historial.")
			return
		}
		items = append(items, gin.H{
			"id":           id,
			"kind":         kind,
			"analysisMode": analysisMode,
			"result":       parseJSONStringMap(resultRaw),
			"inputChars":   inputChars,
			"createdAt":    createdAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *App) getQuota(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "No autorizado.")
		return
	}
	snapshot, err := a.quotaStatusFor(c.Request.Context(), user, time.Now().UTC())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo consultar tu cuota diaria.")
		return
	}
	c.JSON(http.StatusOK, quotaMap(snapshot))
}

// savePersonAnalysis upserts the person by case-insensitive name and appends
// the analysis under it, mirroring how repeated scans of the same contact
// should land on one card.
func (a *App) savePersonAnalysis(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "No autorizado.")
		return
	}
	var payload savePersonRequest
	if !mustJSON(c, &payload) {
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeError(c, http.StatusBadRequest, "Debes asignar un nombre para guardar esta persona.")
		return
	}
	nameNormalized := strings.ToLower(name)

	tx, err := a.db.Begin(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo guardar la persona.")
		return
	}
	defer tx.Rollback(c.Request.Context())

	var personID string
	err = tx.QueryRow(
		c.Request.Context(),
		`INSERT INTO "SavedPerson" (id, "userId", name, "nameNormalized", "analysesCount", "createdAt", "lastAnalysisAt")
		 VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		 ON CONFLICT ("userId", "nameNormalized") DO UPDATE
		 SET name = EXCLUDED.name,
		     "analysesCount" = "SavedPerson"."analysesCount" + 1,
		     "lastAnalysisAt" = NOW()
		 RETURNING id`,
		uuid.NewString(),
		user.ID,
		name,
		nameNormalized,
	).Scan(&personID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo guardar la persona.")
		return
	}

	if _, err := tx.Exec(
		c.Request.Context(),
		`INSERT INTO "SavedPersonAnalysis" (id, "personId", "chatText", "resultJson", "createdAt")
		 VALUES ($1, $2, $3, $4, NOW())`,
		uuid.NewString(),
		personID,
		truncateRunes(strings.TrimSpace(payload.ChatText), maxChatTextRunes),
		mustMarshalJSON(payload.Result),
	); err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo guardar el analisis.")
		return
	}
	if err := tx.Commit(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo guardar la persona.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"personId": personID})
}

func (a *App) getSavedPeople(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "No autorizado.")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, name, "analysesCount", "createdAt", "lastAnalysisAt"
		 FROM "SavedPerson"
		 WHERE "userId" = $1
		 ORDER BY "lastAnalysisAt" DESC
		 LIMIT $2`,
		user.ID,
		savedPeopleLimit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudieron cargar tus personas guardadas.")
		return
	}
	defer rows.Close()

	people := make([]gin.H, 0, savedPeopleLimit)
	for rows.Next() {
		var id, name string
		var analysesCount int
		var createdAt, lastAnalysisAt time.Time
		if err := rows.Scan(&id, &name, &analysesCount, &createdAt, &lastAnalysisAt); err != nil {
			writeError(c, http.StatusInternalServerError, "No se pudieron leer tus personas guardadas.")
			return
		}
		people = append(people, gin.H{
			"id":             id,
			"name":           name,
			"analysesCount":  analysesCount,
			"createdAt":      createdAt.UTC(),
			"lastAnalysisAt": lastAnalysisAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"people": people})
}

func (a *App) getSavedPersonDetails(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "No autorizado.")
		return
	}
	personID := strings.TrimSpace(c.Param("person_id"))

	var id, name string
	var analysesCount int
	var createdAt, lastAnalysisAt time.Time
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT id, name, "analysesCount", "createdAt", "lastAnalysisAt"
		 FROM "SavedPerson"
		 WHERE id = $1 AND "userId" = $2`,
		personID,
		user.ID,
	).Scan(&id, &name, &analysesCount, &createdAt, &lastAnalysisAt)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Persona guardada no encontrada.")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudo cargar la persona guardada.")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, "chatText", "resultJson", "createdAt"
		 FROM "SavedPersonAnalysis"
		 WHERE "personId" = $1
		 ORDER BY "createdAt" DESC
		 LIMIT $2`,
		id,
		personDetailLimit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "No se pudieron cargar los analisis guardados.")
		return
	}
	defer rows.Close()

	analyses := make([]gin.H, 0, personDetailLimit)
	for rows.Next() {
		var analysisID, chatText string
		var resultRaw []byte
		var analysisCreatedAt time.Time
		if err := rows.Scan(&analysisID, &chatText, &resultRaw, &analysisCreatedAt); err != nil {
			writeError(c, http.StatusInternalServerError, "No se pudieron leer los analisis guardados.")
			return
		}
		analyses = append(analyses, gin.H{
			"id":        analysisID,
			"chatText":  chatText,
			"result":    parseJSONStringMap(resultRaw),
			"createdAt": analysisCreatedAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"person": gin.H{
			"id":             id,
			"name":           name,
			"analysesCount":  analysesCount,
			"createdAt":      createdAt.UTC(),
			"lastAnalysisAt": lastAnalysisAt.UTC(),
		},
		"analyses": analyses,
	})
}

func parseLimitQuery(raw string, fallback, max int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 1 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

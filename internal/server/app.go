package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"truthscan/backend/internal/config"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg config.Config
	db  *pgxpool.Pool
	ai  AIClient
}

type AuthUser struct {
	ID          string
	Provider    string
	ProviderUID *string
	Name        string
	Plan        string
}

func New(cfg config.Config, db *pgxpool.Pool) *App {
	return &App{cfg: cfg, db: db, ai: NewOpenAIChatClient(cfg)}
}

// NewWithAIClient is the seam handler tests use to inject a stub provider.
func NewWithAIClient(cfg config.Config, db *pgxpool.Pool, ai AIClient) *App {
	return &App{cfg: cfg, db: db, ai: ai}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(a.corsConfig()))

	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Metodo no permitido."})
	})
	router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Ruta no encontrada."})
	})

	router.GET("/health", a.health)
	router.GET("/relationship-check/questions", a.getRelationshipQuestions)

	analysis := router.Group("")
	analysis.Use(a.optionalAuthMiddleware())
	analysis.POST("/analyze", a.analyzeConversation)
	analysis.POST("/relationship-check", a.relationshipCheck)

	private := router.Group("")
	private.Use(a.authMiddleware())
	private.GET("/history", a.getHistory)
	private.GET("/quota", a.getQuota)
	private.POST("/people", a.savePersonAnalysis)
	private.GET("/people", a.getSavedPeople)
	private.GET("/people/:person_id", a.getSavedPersonDetails)

	return router
}

func (a *App) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	allowAll := len(a.cfg.CORSAllowOrigins) == 0
	for _, origin := range a.cfg.CORSAllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = a.cfg.CORSAllowOrigins
	cfg.AllowCredentials = true
	return cfg
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"service": "truthscan-analysis-api",
	})
}

// authMiddleware rejects requests without a valid bearer token.
func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, status, err := a.resolveBearerUser(c)
		if err != nil {
			writeError(c, status, err.Error())
			return
		}
		c.Set("authUser", user)
		c.Next()
	}
}

// optionalAuthMiddleware lets anonymous requests through untouched; a token,
// when present, must still be valid.
func (a *App) optionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
			c.Next()
			return
		}
		user, status, err := a.resolveBearerUser(c)
		if err != nil {
			writeError(c, status, err.Error())
			return
		}
		c.Set("authUser", user)
		c.Next()
	}
}

func (a *App) resolveBearerUser(c *gin.Context) (AuthUser, int, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return AuthUser{}, http.StatusUnauthorized, errors.New("Se requiere un token bearer.")
	}
	tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
	if tokenString == "" {
		return AuthUser{}, http.StatusUnauthorized, errors.New("Se requiere un token bearer.")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return AuthUser{}, http.StatusUnauthorized, errors.New("Token bearer invalido.")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AuthUser{}, http.StatusUnauthorized, errors.New("Token bearer invalido.")
	}
	if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
		return AuthUser{}, http.StatusUnauthorized, errors.New("Audiencia del token invalida.")
	}
	if a.cfg.JWTIssuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.cfg.JWTIssuer {
			return AuthUser{}, http.StatusUnauthorized, errors.New("Emisor del token invalido.")
		}
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return AuthUser{}, http.StatusUnauthorized, errors.New("El token no tiene sujeto.")
	}

	user, err := a.getOrCreateUser(c.Request.Context(), sub, claims)
	if err != nil {
		return AuthUser{}, http.StatusUnauthorized, err
	}
	return user, http.StatusOK, nil
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func providerFromClaim(raw any) string {
	if s, ok := raw.(string); ok {
		switch s {
		case "google", "apple", "email":
			return s
		}
	}
	return "email"
}

func toOptionalString(raw any) *string {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	var providerUID *string

	err := a.db.QueryRow(
		ctx,
		`SELECT id, provider, "providerUid", name, plan FROM "User" WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Provider, &providerUID, &user.Name, &user.Plan)
	if err == nil {
		user.ProviderUID = providerUID
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("Usuario no encontrado.")
	}

	provider := providerFromClaim(claims["provider"])
	providerUID = toOptionalString(claims["provider_uid"])

	name := ""
	if rawName, ok := claims["name"].(string); ok {
		name = strings.TrimSpace(rawName)
	}
	if name == "" {
		name = fmt.Sprintf("user-%s", truncateRunes(userID, 8))
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO "User" (id, provider, "providerUid", name, plan, "createdAt")
		 VALUES ($1, $2, $3, $4, 'free', NOW())`,
		userID,
		provider,
		providerUID,
		name,
	); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{
		ID:          userID,
		Provider:    provider,
		ProviderUID: providerUID,
		Name:        name,
		Plan:        "free",
	}, nil
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func mustJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, http.StatusBadRequest, "Cuerpo de la peticion invalido.")
		return false
	}
	return true
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

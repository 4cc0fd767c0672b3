package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	planFree = "free"
	planPro  = "pro"
)

var errFreeLimitReached = errors.New("free daily limit reached")

type quotaSnapshot struct {
	Plan      string
	Used      int
	Limit     int
	Unlimited bool
}

func (s quotaSnapshot) remaining() int {
	remaining := s.Limit - s.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

func normalizePlan(plan string) string {
	if strings.ToLower(strings.TrimSpace(plan)) == planPro {
		return planPro
	}
	return planFree
}

func dateKeyFor(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func (a *App) countUsedToday(ctx context.Context, q dbQuerier, userID string, now time.Time) (int, error) {
	var count int
	err := q.QueryRow(
		ctx,
		`SELECT count FROM "DailyUsage" WHERE "userId" = $1 AND "dateKey" = $2`,
		userID,
		dateKeyFor(now),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (a *App) quotaStatusFor(ctx context.Context, user AuthUser, now time.Time) (quotaSnapshot, error) {
	plan := normalizePlan(user.Plan)
	if plan == planPro {
		return quotaSnapshot{Plan: planPro, Unlimited: true}, nil
	}
	used, err := a.countUsedToday(ctx, a.db, user.ID, now)
	if err != nil {
		return quotaSnapshot{}, err
	}
	return quotaSnapshot{Plan: planFree, Used: used, Limit: a.cfg.FreeDailyLimit}, nil
}

// consumeQuotaUse reserves one analysis for today inside a transaction. It
// returns errFreeLimitReached (with the current snapshot) once the free plan
// is exhausted; pro users are never limited and nothing is written for them.
func (a *App) consumeQuotaUse(ctx context.Context, user AuthUser, now time.Time) (quotaSnapshot, error) {
	plan := normalizePlan(user.Plan)
	if plan == planPro {
		return quotaSnapshot{Plan: planPro, Unlimited: true}, nil
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return quotaSnapshot{}, err
	}
	defer tx.Rollback(ctx)

	dateKey := dateKeyFor(now)
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "DailyUsage" (id, "userId", "dateKey", count, "updatedAt")
		 VALUES ($1, $2, $3, 0, NOW())
		 ON CONFLICT ("userId", "dateKey") DO NOTHING`,
		uuid.NewString(),
		user.ID,
		dateKey,
	); err != nil {
		return quotaSnapshot{}, err
	}

	var used int
	err = tx.QueryRow(
		ctx,
		`SELECT count FROM "DailyUsage" WHERE "userId" = $1 AND "dateKey" = $2 FOR UPDATE`,
		user.ID,
		dateKey,
	).Scan(&used)
	if err != nil {
		return quotaSnapshot{}, err
	}

	snapshot := quotaSnapshot{Plan: planFree, Used: used, Limit: a.cfg.FreeDailyLimit}
	if used >= a.cfg.FreeDailyLimit {
		return snapshot, errFreeLimitReached
	}

	if _, err := tx.Exec(
		ctx,
		`UPDATE "DailyUsage" SET count = count + 1, "updatedAt" = NOW()
		 WHERE "userId" = $1 AND "dateKey" = $2`,
		user.ID,
		dateKey,
	); err != nil {
		return quotaSnapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return quotaSnapshot{}, err
	}

	snapshot.Used = used + 1
	return snapshot, nil
}

// releaseQuotaUse hands back a reserved use when the provider call failed,
// so a provider outage does not eat the caller's daily allowance.
func (a *App) releaseQuotaUse(ctx context.Context, user AuthUser, now time.Time) error {
	if normalizePlan(user.Plan) == planPro {
		return nil
	}
	_, err := a.db.Exec(
		ctx,
		`UPDATE "DailyUsage" SET count = GREATEST(count - 1, 0), "updatedAt" = NOW()
		 WHERE "userId" = $1 AND "dateKey" = $2`,
		user.ID,
		dateKeyFor(now),
	)
	return err
}

const (
	analysisKindConversation = "CONVERSATION"
	analysisKindRelationship = "RELATIONSHIP"
)

func (a *App) recordAnalysisLog(
	ctx context.Context,
	userID, kind, modeID string,
	result any,
	inputChars int,
) error {
	_, err := a.db.Exec(
		ctx,
		`INSERT INTO "AnalysisLog" (id, "userId", kind, "analysisMode", "resultJson", "inputChars", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.NewString(),
		userID,
		kind,
		modeID,
		mustMarshalJSON(result),
		inputChars,
	)
	return err
}

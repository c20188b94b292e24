// Package usage meters token consumption per tenant/user against a
// monthly allowance, backed by Redis. Counters are incremented with
// INCRBY so concurrent requests for the same tenant never race in
// process: atomicity lives at the storage layer.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/models"
)

// ErrLimitExceeded gates the pipeline before any model or skill call.
var ErrLimitExceeded = errors.New("usage: monthly token limit exceeded")

// Counters expire two periods after their month so stale tenants do
// not accumulate keys.
const keyTTL = 62 * 24 * time.Hour

// Meter implements contracts.UsageService on Redis.
type Meter struct {
	rdb   redis.UniversalClient
	limit int64
	now   func() time.Time
	log   *logging.Logger
}

// NewMeter builds a Meter. limit <= 0 disables the gate (unlimited).
func NewMeter(rdb redis.UniversalClient, limit int64, now func() time.Time, log *logging.Logger) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{rdb: rdb, limit: limit, now: now, log: log.Sub("usage")}
}

func (m *Meter) key(tenantID, userID string) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, userID, m.now().UTC().Format("2006-01"))
}

// CheckLimit fails with ErrLimitExceeded when the current period's
// consumption plus the estimate would pass the allowance. Read errors
// are returned as-is: the gate is strict, so an unreachable store
// blocks rather than silently admitting traffic.
func (m *Meter) CheckLimit(ctx context.Context, tenantID, userID string, estimatedTokens int64) error {
	if m.limit <= 0 {
		return nil
	}
	val, err := m.rdb.Get(ctx, m.key(tenantID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		val = "0"
	} else if err != nil {
		return fmt.Errorf("usage: read counter: %w", err)
	}
	used, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("usage: corrupt counter %q: %w", val, err)
	}
	if used+estimatedTokens > m.limit {
		m.log.Warn().
			Str("tenant", tenantID).
			Str("user", userID).
			Int64("used", used).
			Int64("limit", m.limit).
			Msg("usage limit exceeded")
		return fmt.Errorf("%w: %d/%d tokens used", ErrLimitExceeded, used, m.limit)
	}
	return nil
}

// TrackUsage commits actual consumption. Best-effort: failures are
// logged and returned, but callers do not roll back a delivered answer.
func (m *Meter) TrackUsage(ctx context.Context, tenantID, userID string, actualTokens int64) error {
	if actualTokens <= 0 {
		return nil
	}
	key := m.key(tenantID, userID)
	pipe := m.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, actualTokens)
	pipe.Expire(ctx, key, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Error().Str("tenant", tenantID).Err(err).Msg("usage commit failed")
		return fmt.Errorf("usage: commit: %w", err)
	}
	return nil
}

// Current returns the period's consumption for reporting endpoints.
func (m *Meter) Current(ctx context.Context, tenantID, userID string) (models.UsageRecord, error) {
	rec := models.UsageRecord{
		TenantID: tenantID,
		UserID:   userID,
		Period:   m.now().UTC().Format("2006-01"),
		At:       m.now().UTC(),
	}
	val, err := m.rdb.Get(ctx, m.key(tenantID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("usage: read counter: %w", err)
	}
	rec.Tokens, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return rec, fmt.Errorf("usage: corrupt counter %q: %w", val, err)
	}
	return rec, nil
}

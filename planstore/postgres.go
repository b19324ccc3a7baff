// Package planstore implements plan.Repository against PostgreSQL.
package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements plan.Repository using a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection with a ping.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Load returns every plan not yet cancelled, each populated with its
// pending tasks.
func (s *Store) Load(ctx context.Context) ([]plan.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset_id, sync_mode, max_per_minute, daily_limit, cooldown_seconds, max_retries
		FROM plans WHERE status != 'cancelled'
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer rows.Close()

	statics := map[uuid.UUID]*plan.Static{}
	for rows.Next() {
		var st plan.Static
		var mode string
		if err := rows.Scan(&st.PlanID, &st.Dataset, &mode, &st.Quota.MaxPerMinute, &st.Quota.DailyLimit, &st.Quota.CooldownSeconds, &st.RetryBudget); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		st.Mode = plan.SyncMode(mode)
		statics[st.PlanID] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	taskRows, err := s.pool.Query(ctx, `
		SELECT plan_id, dataset_id, url, method, headers, payload
		FROM plan_tasks WHERE consumed = false
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var planID, datasetID uuid.UUID
		var rawURL, method string
		var headersJSON, payload []byte
		if err := taskRows.Scan(&planID, &datasetID, &rawURL, &method, &headersJSON, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		p, ok := statics[planID]
		if !ok {
			continue
		}
		headers := map[string]string{}
		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &headers); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
			}
		}
		spec, err := synctask.NewRequestSpec(rawURL, method, headers, json.RawMessage(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		p.Tasks = append(p.Tasks, synctask.New(datasetID, planID, spec))
	}
	if err := taskRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	plans := make([]plan.Plan, 0, len(statics))
	for _, p := range statics {
		plans = append(plans, *p)
	}
	return plans, nil
}

// MarkAssigned transitions a plan's persisted status to "assigned".
func (s *Store) MarkAssigned(ctx context.Context, planID uuid.UUID) error {
	return s.setStatus(ctx, planID, "assigned")
}

// MarkCancelled transitions a plan's persisted status to "cancelled".
func (s *Store) MarkCancelled(ctx context.Context, planID uuid.UUID) error {
	return s.setStatus(ctx, planID, "cancelled")
}

func (s *Store) setStatus(ctx context.Context, planID uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE plans SET status = $1, updated_at = NOW() WHERE id = $2`, status, planID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

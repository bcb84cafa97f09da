package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cryptofx/pkg/database"
	schema "cryptofx/pkg/database/sql"
	"cryptofx/pkg/logging"
)

// Metrics records key store query outcomes. Either field may be nil.
type Metrics struct {
	Queries  *prometheus.CounterVec   // labels: query_type, status
	Duration *prometheus.HistogramVec // labels: query_type
}

// PostgresStore keeps credentials in the api_keys table. Keys are stored
// as their SHA-256 digest; only a masked hint of the plaintext is kept.
type PostgresStore struct {
	db      database.PostgresConn
	logger  logging.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewPostgresStore returns a store over db. metrics may be nil.
func NewPostgresStore(db database.PostgresConn, logger logging.Logger, metrics *Metrics) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, metrics: metrics, now: time.Now}
}

// observe records one query of kind op that started at start.
func (s *PostgresStore) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	if s.metrics.Queries != nil {
		s.metrics.Queries.WithLabelValues(op, status).Inc()
	}
	if s.metrics.Duration != nil {
		s.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Migrate creates the api_keys table and, when seedDemo is set, inserts the
// demo credentials.
func (s *PostgresStore) Migrate(ctx context.Context, seedDemo bool) error {
	ddl, err := schema.Schema()
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if !seedDemo {
		return nil
	}
	seed, err := schema.DemoSeed()
	if err != nil {
		return fmt.Errorf("read demo seed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, seed); err != nil {
		return fmt.Errorf("seed demo keys: %w", err)
	}
	s.logger.Info("Seeded demo API keys")
	return nil
}

const selectCredential = `SELECT key_hint, subject_id, plan_tier, active, usage_count, created_at, last_used_at FROM api_keys`

// Lookup returns the credential for key. The returned Key is the caller's
// plaintext.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (c Credential, err error) {
	defer func(start time.Time) { s.observe("lookup", start, err) }(time.Now())
	row := s.db.QueryRowContext(ctx, selectCredential+` WHERE key_hash = $1`, HashKey(key))
	c, err = scanCredential(row)
	if errors.Is(err, database.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("lookup api key: %w", err)
	}
	c.Key = key
	return c, nil
}

func (s *PostgresStore) Touch(ctx context.Context, key string, at time.Time) (err error) {
	defer func(start time.Time) { s.observe("touch", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $2 WHERE key_hash = $1`,
		HashKey(key), at.UTC())
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// Create stores a new key. The returned credential is the only place the
// plaintext key appears.
func (s *PostgresStore) Create(ctx context.Context, subjectID, planTier string) (c Credential, err error) {
	if subjectID == "" {
		return Credential{}, fmt.Errorf("subject id is required")
	}
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	now := s.now().UTC()
	c = Credential{
		Key:       GenerateKey(now),
		SubjectID: subjectID,
		PlanTier:  planTier,
		Active:    true,
		CreatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, key_hint, subject_id, plan_tier, active, usage_count, created_at) VALUES ($1, $2, $3, $4, TRUE, 0, $5)`,
		HashKey(c.Key), Masked(c.Key), c.SubjectID, c.PlanTier, c.CreatedAt)
	if err != nil {
		return Credential{}, fmt.Errorf("create api key: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("deactivate", start, err) }(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE key_hash = $1`, HashKey(key))
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySubject returns the subject's credentials with Key set to the
// stored masked hint.
func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) (out []Credential, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx, selectCredential+` WHERE subject_id = $1 ORDER BY created_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (Credential, error) {
	var c Credential
	var lastUsed sql.NullTime
	if err := row.Scan(&c.Key, &c.SubjectID, &c.PlanTier, &c.Active, &c.UsageCount, &c.CreatedAt, &lastUsed); err != nil {
		return Credential{}, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsedAt = &t
	}
	return c, nil
}

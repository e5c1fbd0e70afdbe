package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS examples (
	id             TEXT PRIMARY KEY,
	category       TEXT NOT NULL,
	variant        TEXT NOT NULL,
	field_name     TEXT NOT NULL,
	input_context  TEXT NOT NULL,
	expected_out   TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	usage_count    BIGINT NOT NULL DEFAULT 0,
	success_count  BIGINT NOT NULL DEFAULT 0,
	deprioritized  BOOLEAN NOT NULL DEFAULT FALSE,
	context_hash   TEXT NOT NULL,
	embedding      JSONB,
	version        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS feedback (
	id                  TEXT PRIMARY KEY,
	field_name          TEXT NOT NULL,
	original_prediction TEXT NOT NULL,
	corrected_value     TEXT NOT NULL,
	feedback_type       TEXT NOT NULL,
	category            TEXT NOT NULL,
	variant             TEXT NOT NULL,
	context             TEXT,
	example_id          TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_examples_lookup
	ON examples(category, variant, field_name);
CREATE INDEX IF NOT EXISTS idx_examples_context_hash
	ON examples(category, variant, field_name, context_hash);
CREATE INDEX IF NOT EXISTS idx_feedback_field ON feedback(field_name);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgExampleCols = `id, category, variant, field_name, input_context,
	expected_out, confidence, usage_count, success_count, deprioritized,
	context_hash, embedding, version, created_at, last_used_at`

func (s *PostgresStore) PutExample(ctx context.Context, ex model.Example) (string, error) {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.ContextHash == "" {
		ex.ContextHash = model.HashContext(ex.InputContext)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	var emb any
	if len(ex.Embedding) > 0 {
		b, err := json.Marshal(ex.Embedding)
		if err != nil {
			return "", eris.Wrap(err, "postgres: encode embedding")
		}
		emb = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO examples
		(id, category, variant, field_name, input_context, expected_out,
		 confidence, usage_count, success_count, deprioritized, context_hash,
		 embedding, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13)`,
		ex.ID, ex.Category, ex.Variant, ex.FieldName, ex.InputContext,
		ex.ExpectedOut, ex.Confidence, ex.UsageCount, ex.SuccessCount,
		ex.Deprioritized, ex.ContextHash, emb, ex.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert example")
	}
	return ex.ID, nil
}

func (s *PostgresStore) GetExample(ctx context.Context, id string) (*model.Example, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgExampleCols+` FROM examples WHERE id = $1`, id)
	ex, err := scanPgExample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get example %s", id)
	}
	return ex, nil
}

func (s *PostgresStore) GetByField(ctx context.Context, category, variant, field string, limit int) ([]model.Example, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgExampleCols+`
		FROM examples
		WHERE category = $1 AND variant = $2 AND field_name = $3 AND NOT deprioritized
		ORDER BY
			(confidence + CASE WHEN usage_count > 0
				THEN success_count::float / usage_count
				ELSE 0.5 END) / 2 DESC,
			created_at DESC
		LIMIT $4`,
		category, variant, field, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get by field")
	}
	defer rows.Close()
	return collectPgExamples(rows)
}

func (s *PostgresStore) ListExamples(ctx context.Context, filter ExampleFilter) ([]model.Example, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	// Empty filter values match everything.
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgExampleCols+`
		FROM examples
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR variant = $2)
		  AND ($3 = '' OR field_name = $3)
		ORDER BY confidence DESC, usage_count DESC
		LIMIT $4`,
		filter.Category, filter.Variant, filter.FieldName, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list examples")
	}
	defer rows.Close()
	return collectPgExamples(rows)
}

func (s *PostgresStore) FindExampleByContext(ctx context.Context, category, variant, field, contextHash string) (*model.Example, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgExampleCols+`
		FROM examples
		WHERE category = $1 AND variant = $2 AND field_name = $3 AND context_hash = $4
		LIMIT 1`,
		category, variant, field, contextHash,
	)
	ex, err := scanPgExample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find example by context")
	}
	return ex, nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE examples
		SET usage_count = usage_count + 1, last_used_at = now()
		WHERE id = $1`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record usage %s", id)
	}
	if tag.RowsAffected() == 0 {
		zap.L().Warn("usage recorded for unknown example", zap.String("example_id", id))
	}
	return nil
}

func (s *PostgresStore) RecordFeedback(ctx context.Context, id string, success bool) error {
	for attempt := 0; attempt < feedbackMaxAttempts; attempt++ {
		ex, err := s.GetExample(ctx, id)
		if err != nil {
			return err
		}
		if ex == nil {
			zap.L().Warn("feedback recorded for unknown example", zap.String("example_id", id))
			return nil
		}

		successDelta := int64(0)
		if success {
			successDelta = 1
		}
		tag, err := s.pool.Exec(ctx, `
			UPDATE examples
			SET success_count = success_count + $1, confidence = $2, version = version + 1
			WHERE id = $3 AND version = $4`,
			successDelta, adjustConfidence(ex.Confidence, success), id, ex.Version,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: record feedback %s", id)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	zap.L().Warn("feedback dropped after version conflicts", zap.String("example_id", id))
	return nil
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, fb model.FeedbackRecord) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback
		(id, field_name, original_prediction, corrected_value, feedback_type,
		 category, variant, context, example_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		fb.ID, fb.FieldName, fb.OriginalPrediction, fb.CorrectedValue,
		string(fb.Type), fb.Category, fb.Variant, fb.Context,
		nullIfEmpty(fb.ExampleID), fb.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert feedback")
}

func (s *PostgresStore) ScanExamples(ctx context.Context, fn func(model.Example) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgExampleCols+` FROM examples ORDER BY created_at`)
	if err != nil {
		return eris.Wrap(err, "postgres: scan examples")
	}
	defer rows.Close()
	for rows.Next() {
		ex, err := scanPgExample(rows)
		if err != nil {
			return eris.Wrap(err, "postgres: scan example row")
		}
		if err := fn(*ex); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: scan examples")
}

func (s *PostgresStore) SetDeprioritized(ctx context.Context, id string, deprioritized bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE examples SET deprioritized = $1 WHERE id = $2`,
		deprioritized, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set deprioritized %s", id)
	}
	if tag.RowsAffected() == 0 {
		zap.L().Warn("deprioritize for unknown example", zap.String("example_id", id))
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*QualityStats, error) {
	stats := &QualityStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT deprioritized THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deprioritized THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(confidence), 0),
			CASE WHEN COALESCE(SUM(usage_count), 0) > 0
				THEN SUM(success_count)::float / SUM(usage_count)
				ELSE 0 END,
			COALESCE(SUM(CASE WHEN confidence >= 0.9 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN confidence >= 0.7 AND confidence < 0.9 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN confidence < 0.7 THEN 1 ELSE 0 END), 0)
		FROM examples`,
	).Scan(
		&stats.TotalExamples, &stats.Active, &stats.Deprioritized,
		&stats.AvgConfidence, &stats.SuccessRate,
		&stats.HighQuality, &stats.MediumQuality, &stats.LowQuality,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			field_name,
			COUNT(*),
			AVG(confidence),
			CASE WHEN SUM(usage_count) > 0
				THEN SUM(success_count)::float / SUM(usage_count)
				ELSE 0 END
		FROM examples
		GROUP BY field_name
		ORDER BY COUNT(*) DESC, field_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: per-field stats")
	}
	defer rows.Close()
	for rows.Next() {
		var fs FieldStats
		if err := rows.Scan(&fs.FieldName, &fs.Count, &fs.AvgConfidence, &fs.SuccessRate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field stats")
		}
		stats.PerField = append(stats.PerField, fs)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: per-field stats")
}

// --- scan helpers ---

func scanPgExample(row pgx.Row) (*model.Example, error) {
	var (
		ex       model.Example
		emb      []byte
		lastUsed *time.Time
	)
	err := row.Scan(
		&ex.ID, &ex.Category, &ex.Variant, &ex.FieldName, &ex.InputContext,
		&ex.ExpectedOut, &ex.Confidence, &ex.UsageCount, &ex.SuccessCount,
		&ex.Deprioritized, &ex.ContextHash, &emb, &ex.Version, &ex.CreatedAt,
		&lastUsed,
	)
	if err != nil {
		return nil, err
	}
	if lastUsed != nil {
		ex.LastUsedAt = *lastUsed
	}
	if len(emb) > 0 {
		if err := json.Unmarshal(emb, &ex.Embedding); err != nil {
			return nil, eris.Wrapf(err, "decode embedding for example %s", ex.ID)
		}
	}
	return &ex, nil
}

func collectPgExamples(rows pgx.Rows) ([]model.Example, error) {
	var out []model.Example
	for rows.Next() {
		ex, err := scanPgExample(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan example")
		}
		out = append(out, *ex)
	}
	return out, eris.Wrap(rows.Err(), "iterate examples")
}

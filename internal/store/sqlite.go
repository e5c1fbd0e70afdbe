package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/quotefill/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS examples (
	id             TEXT PRIMARY KEY,
	category       TEXT NOT NULL,
	variant        TEXT NOT NULL,
	field_name     TEXT NOT NULL,
	input_context  TEXT NOT NULL,
	expected_out   TEXT NOT NULL,
	confidence     REAL NOT NULL,
	usage_count    INTEGER NOT NULL DEFAULT 0,
	success_count  INTEGER NOT NULL DEFAULT 0,
	deprioritized  INTEGER NOT NULL DEFAULT 0,
	context_hash   TEXT NOT NULL,
	embedding      TEXT,
	version        INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_used_at   DATETIME
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
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_examples_lookup
	ON examples(category, variant, field_name);
CREATE INDEX IF NOT EXISTS idx_examples_context_hash
	ON examples(category, variant, field_name, context_hash);
CREATE INDEX IF NOT EXISTS idx_feedback_field ON feedback(field_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutExample(ctx context.Context, ex model.Example) (string, error) {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.ContextHash == "" {
		ex.ContextHash = model.HashContext(ex.InputContext)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	emb, err := encodeEmbedding(ex.Embedding)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO examples
		(id, category, variant, field_name, input_context, expected_out,
		 confidence, usage_count, success_count, deprioritized, context_hash,
		 embedding, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		ex.ID, ex.Category, ex.Variant, ex.FieldName, ex.InputContext,
		ex.ExpectedOut, ex.Confidence, ex.UsageCount, ex.SuccessCount,
		boolToInt(ex.Deprioritized), ex.ContextHash, emb, ex.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert example")
	}
	return ex.ID, nil
}

const sqliteExampleCols = `id, category, variant, field_name, input_context,
	expected_out, confidence, usage_count, success_count, deprioritized,
	context_hash, embedding, version, created_at, last_used_at`

func (s *SQLiteStore) GetExample(ctx context.Context, id string) (*model.Example, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteExampleCols+` FROM examples WHERE id = ?`, id)
	ex, err := scanExample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get example %s", id)
	}
	return ex, nil
}

func (s *SQLiteStore) GetByField(ctx context.Context, category, variant, field string, limit int) ([]model.Example, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteExampleCols+`
		FROM examples
		WHERE category = ? AND variant = ? AND field_name = ? AND deprioritized = 0
		ORDER BY
			(confidence + CASE WHEN usage_count > 0
				THEN success_count * 1.0 / usage_count
				ELSE 0.5 END) / 2 DESC,
			created_at DESC
		LIMIT ?`,
		category, variant, field, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get by field")
	}
	defer rows.Close()
	return collectExamples(rows)
}

func (s *SQLiteStore) ListExamples(ctx context.Context, filter ExampleFilter) ([]model.Example, error) {
	q := `SELECT ` + sqliteExampleCols + ` FROM examples WHERE 1=1`
	var args []any
	if filter.Category != "" {
		q += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Variant != "" {
		q += ` AND variant = ?`
		args = append(args, filter.Variant)
	}
	if filter.FieldName != "" {
		q += ` AND field_name = ?`
		args = append(args, filter.FieldName)
	}
	q += ` ORDER BY confidence DESC, usage_count DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list examples")
	}
	defer rows.Close()
	return collectExamples(rows)
}

func (s *SQLiteStore) FindExampleByContext(ctx context.Context, category, variant, field, contextHash string) (*model.Example, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteExampleCols+`
		FROM examples
		WHERE category = ? AND variant = ? AND field_name = ? AND context_hash = ?
		LIMIT 1`,
		category, variant, field, contextHash,
	)
	ex, err := scanExample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find example by context")
	}
	return ex, nil
}

// RecordUsage bumps usage_count in a single atomic UPDATE. Unknown ids are
// logged and swallowed.
func (s *SQLiteStore) RecordUsage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE examples
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record usage %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Warn("usage recorded for unknown example", zap.String("example_id", id))
	}
	return nil
}

// RecordFeedback applies the feedback counter and confidence drift under
// per-record optimistic versioning.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, id string, success bool) error {
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
		res, err := s.db.ExecContext(ctx, `
			UPDATE examples
			SET success_count = success_count + ?, confidence = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			successDelta, adjustConfidence(ex.Confidence, success), id, ex.Version,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record feedback %s", id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		// Version moved underneath us; reread and retry.
	}
	zap.L().Warn("feedback dropped after version conflicts", zap.String("example_id", id))
	return nil
}

func (s *SQLiteStore) InsertFeedback(ctx context.Context, fb model.FeedbackRecord) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback
		(id, field_name, original_prediction, corrected_value, feedback_type,
		 category, variant, context, example_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.FieldName, fb.OriginalPrediction, fb.CorrectedValue,
		string(fb.Type), fb.Category, fb.Variant, fb.Context,
		nullIfEmpty(fb.ExampleID), fb.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert feedback")
}

func (s *SQLiteStore) ScanExamples(ctx context.Context, fn func(model.Example) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteExampleCols+` FROM examples ORDER BY created_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: scan examples")
	}
	defer rows.Close()
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return eris.Wrap(err, "sqlite: scan example row")
		}
		if err := fn(*ex); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: scan examples")
}

func (s *SQLiteStore) SetDeprioritized(ctx context.Context, id string, deprioritized bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE examples SET deprioritized = ? WHERE id = ?`,
		boolToInt(deprioritized), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set deprioritized %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Warn("deprioritize for unknown example", zap.String("example_id", id))
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*QualityStats, error) {
	stats := &QualityStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN deprioritized = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deprioritized = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(confidence), 0),
			CASE WHEN COALESCE(SUM(usage_count), 0) > 0
				THEN SUM(success_count) * 1.0 / SUM(usage_count)
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
		return nil, eris.Wrap(err, "sqlite: stats")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			field_name,
			COUNT(*),
			AVG(confidence),
			CASE WHEN SUM(usage_count) > 0
				THEN SUM(success_count) * 1.0 / SUM(usage_count)
				ELSE 0 END
		FROM examples
		GROUP BY field_name
		ORDER BY COUNT(*) DESC, field_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: per-field stats")
	}
	defer rows.Close()
	for rows.Next() {
		var fs FieldStats
		if err := rows.Scan(&fs.FieldName, &fs.Count, &fs.AvgConfidence, &fs.SuccessRate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field stats")
		}
		stats.PerField = append(stats.PerField, fs)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: per-field stats")
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExample(row rowScanner) (*model.Example, error) {
	var (
		ex       model.Example
		deprio   int
		emb      sql.NullString
		lastUsed sql.NullTime
	)
	err := row.Scan(
		&ex.ID, &ex.Category, &ex.Variant, &ex.FieldName, &ex.InputContext,
		&ex.ExpectedOut, &ex.Confidence, &ex.UsageCount, &ex.SuccessCount,
		&deprio, &ex.ContextHash, &emb, &ex.Version, &ex.CreatedAt, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	ex.Deprioritized = deprio != 0
	if lastUsed.Valid {
		ex.LastUsedAt = lastUsed.Time
	}
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &ex.Embedding); err != nil {
			return nil, eris.Wrapf(err, "decode embedding for example %s", ex.ID)
		}
	}
	return &ex, nil
}

func collectExamples(rows *sql.Rows) ([]model.Example, error) {
	var out []model.Example
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan example")
		}
		out = append(out, *ex)
	}
	return out, eris.Wrap(rows.Err(), "iterate examples")
}

func encodeEmbedding(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "encode embedding")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

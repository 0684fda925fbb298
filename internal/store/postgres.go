package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/db"
	"github.com/sells-group/trueup-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., baseline bulk loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS mapping_suggestions (
	id              TEXT PRIMARY KEY,
	scope           TEXT NOT NULL,
	fiscal_year     TEXT NOT NULL,
	source_field    TEXT NOT NULL,
	suggested_head  TEXT NOT NULL,
	suggested_class TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	reasoning       TEXT,
	raw_page_ref    INTEGER,
	approved_amount NUMERIC NOT NULL,
	actual_amount   NUMERIC NOT NULL,
	status          TEXT NOT NULL DEFAULT 'Pending',
	decision        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            TEXT PRIMARY KEY,
	suggestion_id TEXT NOT NULL REFERENCES mapping_suggestions(id),
	actor_id      TEXT NOT NULL,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	comment       TEXT,
	decided_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_inputs (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	fiscal_year TEXT NOT NULL,
	head        TEXT NOT NULL,
	class       TEXT NOT NULL,
	verified    BOOLEAN NOT NULL DEFAULT false,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_records (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	schema_version TEXT NOT NULL,
	scope          TEXT NOT NULL,
	fiscal_year    TEXT NOT NULL,
	checksum       TEXT NOT NULL UNIQUE,
	supersedes_id  TEXT,
	result         JSONB NOT NULL,
	emitted_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS baseline_samples (
	id        TEXT PRIMARY KEY,
	scope     TEXT NOT NULL,
	head      TEXT NOT NULL,
	amount    NUMERIC NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_suggestions_status ON mapping_suggestions(status);
CREATE INDEX IF NOT EXISTS idx_suggestions_scope_fy ON mapping_suggestions(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_decision_log_suggestion ON decision_log(suggestion_id);
CREATE INDEX IF NOT EXISTS idx_cost_inputs_scope_fy ON cost_inputs(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_audit_scope_fy ON audit_records(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_baseline_scope_head ON baseline_samples(scope, head);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSuggestion(ctx context.Context, sg *model.MappingSuggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.New().String()
	}
	if sg.Status == "" {
		sg.Status = model.StatusPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO mapping_suggestions
		 (id, scope, fiscal_year, source_field, suggested_head, suggested_class,
		  confidence, reasoning, raw_page_ref, approved_amount, actual_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sg.ID, string(sg.Scope), sg.FiscalYear, sg.SourceField, sg.SuggestedHead, sg.SuggestedClass,
		sg.Confidence, sg.Reasoning, sg.RawPageRef, sg.ApprovedAmount.String(), sg.ActualAmount.String(),
		string(sg.Status), sg.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert suggestion %s", sg.ID)
}

const pgSuggestionColumns = `id, scope, fiscal_year, source_field, suggested_head, suggested_class,
	confidence, reasoning, raw_page_ref, approved_amount::text, actual_amount::text, status, decision, created_at`

func (s *PostgresStore) GetSuggestion(ctx context.Context, id string) (*model.MappingSuggestion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgSuggestionColumns+` FROM mapping_suggestions WHERE id = $1`, id)
	sg, err := pgScanSuggestion(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "suggestion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get suggestion %s", id)
	}
	return sg, nil
}

func (s *PostgresStore) ListPendingSuggestions(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.MappingSuggestion, error) {
	query := `SELECT ` + pgSuggestionColumns + ` FROM mapping_suggestions WHERE status = $1`
	args := []any{string(model.StatusPending)}
	if scope != "" {
		args = append(args, string(scope))
		query += ` AND scope = $2`
	}
	if fiscalYear != "" {
		args = append(args, fiscalYear)
		if len(args) == 3 {
			query += ` AND fiscal_year = $3`
		} else {
			query += ` AND fiscal_year = $2`
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending suggestions")
	}
	defer rows.Close()

	var out []model.MappingSuggestion
	for rows.Next() {
		sg, err := pgScanSuggestion(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion")
		}
		out = append(out, *sg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending iterate")
}

func (s *PostgresStore) DecideSuggestion(ctx context.Context, id string, d model.Decision) (bool, error) {
	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal decision")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE mapping_suggestions SET status = $1, decision = $2 WHERE id = $3 AND status = $4`,
		string(d.Status), decisionJSON, id, string(model.StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: decide suggestion %s", id)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM mapping_suggestions WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, eris.Wrapf(ErrNotFound, "suggestion %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check suggestion %s", id)
	}
	return false, nil
}

func (s *PostgresStore) AppendDecision(ctx context.Context, e model.DecisionLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decision_log (id, suggestion_id, actor_id, from_status, to_status, comment, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SuggestionID, e.ActorID, string(e.FromStatus), string(e.ToStatus), e.Comment, e.DecidedAt,
	)
	return eris.Wrapf(err, "postgres: append decision for %s", e.SuggestionID)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, suggestionID string) ([]model.DecisionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, suggestion_id, actor_id, from_status, to_status, comment, decided_at
		 FROM decision_log WHERE suggestion_id = $1 ORDER BY decided_at, id`, suggestionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var e model.DecisionLogEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.SuggestionID, &e.ActorID, &from, &to, &e.Comment, &e.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		e.FromStatus = model.MappingStatus(from)
		e.ToStatus = model.MappingStatus(to)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) PutCostInput(ctx context.Context, in model.CostInput) error {
	data, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cost input")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cost_inputs (id, scope, fiscal_year, head, class, verified, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, string(in.Scope), in.FiscalYear, string(in.Head), string(in.Class), in.HumanVerified, data,
	)
	return eris.Wrapf(err, "postgres: insert cost input %s", in.ID)
}

func (s *PostgresStore) GetCostInput(ctx context.Context, id string) (*model.CostInput, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM cost_inputs WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "cost input %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cost input %s", id)
	}
	var in model.CostInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cost input")
	}
	return &in, nil
}

func (s *PostgresStore) ListVerifiedInputs(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.CostInput, error) {
	query := `SELECT data FROM cost_inputs WHERE verified`
	var args []any
	if scope != "" {
		args = append(args, string(scope))
		query += ` AND scope = $1`
	}
	if fiscalYear != "" {
		args = append(args, fiscalYear)
		if len(args) == 2 {
			query += ` AND fiscal_year = $2`
		} else {
			query += ` AND fiscal_year = $1`
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verified inputs")
	}
	defer rows.Close()

	var out []model.CostInput
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost input")
		}
		var in model.CostInput
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cost input")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list verified iterate")
}

func (s *PostgresStore) AppendAuditRecord(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal result")
	}

	var seq int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO audit_records (id, schema_version, scope, fiscal_year, checksum, supersedes_id, result, emitted_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8) RETURNING seq`,
		rec.ID, rec.SchemaVersion, string(rec.Result.Scope), rec.Result.FiscalYear,
		rec.Checksum, rec.SupersedesID, resultJSON, rec.EmittedAt,
	).Scan(&seq)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append audit record %s", rec.ID)
	}
	rec.Sequence = seq
	return seq, nil
}

const pgAuditColumns = `seq, id, schema_version, checksum, COALESCE(supersedes_id, ''), result, emitted_at`

func (s *PostgresStore) GetAuditRecord(ctx context.Context, id string) (*model.AuditRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgAuditColumns+` FROM audit_records WHERE id = $1`, id)
	rec, err := pgScanAuditRecord(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "audit record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get audit record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error) {
	query := `SELECT ` + pgAuditColumns + ` FROM audit_records WHERE seq >= $1`
	args := []any{filter.FromSeq}
	if filter.Scope != "" {
		args = append(args, string(filter.Scope))
		query += ` AND scope = $2`
	}
	if filter.FiscalYear != "" {
		args = append(args, filter.FiscalYear)
		switch len(args) {
		case 2:
			query += ` AND fiscal_year = $2`
		case 3:
			query += ` AND fiscal_year = $3`
		}
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		switch len(args) {
		case 2:
			query += ` LIMIT $2`
		case 3:
			query += ` LIMIT $3`
		case 4:
			query += ` LIMIT $4`
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit records")
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		rec, err := pgScanAuditRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

// PutBaselineSamples bulk-loads history via the COPY protocol.
func (s *PostgresStore) PutBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead, samples []decimal.Decimal) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(samples))
	for _, amt := range samples {
		rows = append(rows, []any{uuid.New().String(), string(scope), string(head), amt.String(), now})
	}
	_, err := db.CopyFrom(ctx, s.pool, "baseline_samples",
		[]string{"id", "scope", "head", "amount", "loaded_at"}, rows)
	return eris.Wrap(err, "postgres: put baseline samples")
}

func (s *PostgresStore) GetBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead) ([]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT amount::text FROM baseline_samples WHERE scope = $1 AND head = $2 ORDER BY loaded_at, id`,
		string(scope), string(head))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get baseline samples")
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan baseline sample")
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse baseline amount %q", raw)
		}
		out = append(out, amt)
	}
	return out, eris.Wrap(rows.Err(), "postgres: baseline iterate")
}

func pgScanSuggestion(scan func(dest ...any) error) (*model.MappingSuggestion, error) {
	var (
		sg               model.MappingSuggestion
		scope, status    string
		approved, actual string
		reasoning        *string
		rawPageRef       *int32
		decisionJSON     []byte
	)
	err := scan(&sg.ID, &scope, &sg.FiscalYear, &sg.SourceField, &sg.SuggestedHead, &sg.SuggestedClass,
		&sg.Confidence, &reasoning, &rawPageRef, &approved, &actual, &status, &decisionJSON, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	sg.Scope = model.Scope(scope)
	sg.Status = model.MappingStatus(status)
	if reasoning != nil {
		sg.Reasoning = *reasoning
	}
	if rawPageRef != nil {
		sg.RawPageRef = int(*rawPageRef)
	}
	if sg.ApprovedAmount, err = decimal.NewFromString(approved); err != nil {
		return nil, eris.Wrapf(err, "parse approved amount %q", approved)
	}
	if sg.ActualAmount, err = decimal.NewFromString(actual); err != nil {
		return nil, eris.Wrapf(err, "parse actual amount %q", actual)
	}
	if len(decisionJSON) > 0 {
		var d model.Decision
		if err := json.Unmarshal(decisionJSON, &d); err != nil {
			return nil, eris.Wrap(err, "unmarshal decision")
		}
		sg.Decision = &d
	}
	return &sg, nil
}

func pgScanAuditRecord(scan func(dest ...any) error) (*model.AuditRecord, error) {
	var (
		rec        model.AuditRecord
		resultJSON []byte
	)
	err := scan(&rec.Sequence, &rec.ID, &rec.SchemaVersion, &rec.Checksum, &rec.SupersedesID, &resultJSON, &rec.EmittedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return nil, eris.Wrap(err, "unmarshal audit result")
	}
	return &rec, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trueup-cli/internal/model"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS mapping_suggestions (
	id              TEXT PRIMARY KEY,
	scope           TEXT NOT NULL,
	fiscal_year     TEXT NOT NULL,
	source_field    TEXT NOT NULL,
	suggested_head  TEXT NOT NULL,
	suggested_class TEXT NOT NULL,
	confidence      REAL NOT NULL,
	reasoning       TEXT,
	raw_page_ref    INTEGER,
	approved_amount TEXT NOT NULL,
	actual_amount   TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'Pending',
	decision        TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            TEXT PRIMARY KEY,
	suggestion_id TEXT NOT NULL REFERENCES mapping_suggestions(id),
	actor_id      TEXT NOT NULL,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	comment       TEXT,
	decided_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_inputs (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	fiscal_year TEXT NOT NULL,
	head        TEXT NOT NULL,
	class       TEXT NOT NULL,
	verified    INTEGER NOT NULL DEFAULT 0,
	data        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_records (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	schema_version TEXT NOT NULL,
	scope          TEXT NOT NULL,
	fiscal_year    TEXT NOT NULL,
	checksum       TEXT NOT NULL UNIQUE,
	supersedes_id  TEXT,
	result         TEXT NOT NULL,
	emitted_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS baseline_samples (
	id        TEXT PRIMARY KEY,
	scope     TEXT NOT NULL,
	head      TEXT NOT NULL,
	amount    TEXT NOT NULL,
	loaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_suggestions_status ON mapping_suggestions(status);
CREATE INDEX IF NOT EXISTS idx_suggestions_scope_fy ON mapping_suggestions(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_decision_log_suggestion ON decision_log(suggestion_id);
CREATE INDEX IF NOT EXISTS idx_cost_inputs_scope_fy ON cost_inputs(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_audit_scope_fy ON audit_records(scope, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_baseline_scope_head ON baseline_samples(scope, head);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSuggestion(ctx context.Context, sg *model.MappingSuggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.New().String()
	}
	if sg.Status == "" {
		sg.Status = model.StatusPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mapping_suggestions
		 (id, scope, fiscal_year, source_field, suggested_head, suggested_class,
		  confidence, reasoning, raw_page_ref, approved_amount, actual_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, string(sg.Scope), sg.FiscalYear, sg.SourceField, sg.SuggestedHead, sg.SuggestedClass,
		sg.Confidence, sg.Reasoning, sg.RawPageRef, sg.ApprovedAmount.String(), sg.ActualAmount.String(),
		string(sg.Status), sg.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert suggestion %s", sg.ID)
}

const suggestionColumns = `id, scope, fiscal_year, source_field, suggested_head, suggested_class,
	confidence, reasoning, raw_page_ref, approved_amount, actual_amount, status, decision, created_at`

func (s *SQLiteStore) GetSuggestion(ctx context.Context, id string) (*model.MappingSuggestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+suggestionColumns+` FROM mapping_suggestions WHERE id = ?`, id)
	sg, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "suggestion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get suggestion %s", id)
	}
	return sg, nil
}

func (s *SQLiteStore) ListPendingSuggestions(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.MappingSuggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM mapping_suggestions WHERE status = ?`
	args := []any{string(model.StatusPending)}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(scope))
	}
	if fiscalYear != "" {
		query += ` AND fiscal_year = ?`
		args = append(args, fiscalYear)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending suggestions")
	}
	defer rows.Close()

	var out []model.MappingSuggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion")
		}
		out = append(out, *sg)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending iterate")
}

// DecideSuggestion is the atomic check-then-set at the heart of the gate:
// the status guard in the WHERE clause means only one concurrent decision
// can ever observe rows=1.
func (s *SQLiteStore) DecideSuggestion(ctx context.Context, id string, d model.Decision) (bool, error) {
	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal decision")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE mapping_suggestions SET status = ?, decision = ? WHERE id = ? AND status = ?`,
		string(d.Status), string(decisionJSON), id, string(model.StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: decide suggestion %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM mapping_suggestions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, eris.Wrapf(ErrNotFound, "suggestion %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check suggestion %s", id)
	}
	return false, nil
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, e model.DecisionLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log (id, suggestion_id, actor_id, from_status, to_status, comment, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SuggestionID, e.ActorID, string(e.FromStatus), string(e.ToStatus), e.Comment, e.DecidedAt,
	)
	return eris.Wrapf(err, "sqlite: append decision for %s", e.SuggestionID)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, suggestionID string) ([]model.DecisionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, suggestion_id, actor_id, from_status, to_status, comment, decided_at
		 FROM decision_log WHERE suggestion_id = ? ORDER BY decided_at, id`, suggestionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var e model.DecisionLogEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.SuggestionID, &e.ActorID, &from, &to, &e.Comment, &e.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		e.FromStatus = model.MappingStatus(from)
		e.ToStatus = model.MappingStatus(to)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) PutCostInput(ctx context.Context, in model.CostInput) error {
	data, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cost input")
	}
	verified := 0
	if in.HumanVerified {
		verified = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cost_inputs (id, scope, fiscal_year, head, class, verified, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, string(in.Scope), in.FiscalYear, string(in.Head), string(in.Class), verified, string(data),
	)
	return eris.Wrapf(err, "sqlite: insert cost input %s", in.ID)
}

func (s *SQLiteStore) GetCostInput(ctx context.Context, id string) (*model.CostInput, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cost_inputs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "cost input %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cost input %s", id)
	}
	var in model.CostInput
	if err := json.Unmarshal([]byte(data), &in); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cost input")
	}
	return &in, nil
}

func (s *SQLiteStore) ListVerifiedInputs(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.CostInput, error) {
	query := `SELECT data FROM cost_inputs WHERE verified = 1`
	var args []any
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(scope))
	}
	if fiscalYear != "" {
		query += ` AND fiscal_year = ?`
		args = append(args, fiscalYear)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verified inputs")
	}
	defer rows.Close()

	var out []model.CostInput
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost input")
		}
		var in model.CostInput
		if err := json.Unmarshal([]byte(data), &in); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal cost input")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list verified iterate")
}

// AppendAuditRecord inserts into the write-once trail and returns the
// assigned monotonic sequence. Concurrent appends are serialized by the
// autoincrement key; there is no update path.
func (s *SQLiteStore) AppendAuditRecord(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, schema_version, scope, fiscal_year, checksum, supersedes_id, result, emitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SchemaVersion, string(rec.Result.Scope), rec.Result.FiscalYear,
		rec.Checksum, nullIfEmpty(rec.SupersedesID), string(resultJSON), rec.EmittedAt,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append audit record %s", rec.ID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	rec.Sequence = seq
	return seq, nil
}

const auditColumns = `seq, id, schema_version, checksum, supersedes_id, result, emitted_at`

func (s *SQLiteStore) GetAuditRecord(ctx context.Context, id string) (*model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE id = ?`, id)
	rec, err := scanAuditRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "audit record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get audit record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE seq >= ?`
	args := []any{filter.FromSeq}
	if filter.Scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(filter.Scope))
	}
	if filter.FiscalYear != "" {
		query += ` AND fiscal_year = ?`
		args = append(args, filter.FiscalYear)
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit records")
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) PutBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead, samples []decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin baseline tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, amt := range samples {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO baseline_samples (id, scope, head, amount) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), string(scope), string(head), amt.String(),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert baseline sample")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit baseline tx")
}

func (s *SQLiteStore) GetBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM baseline_samples WHERE scope = ? AND head = ? ORDER BY loaded_at, id`,
		string(scope), string(head))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get baseline samples")
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan baseline sample")
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse baseline amount %q", raw)
		}
		out = append(out, amt)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: baseline iterate")
}

type scanFunc func(dest ...any) error

func scanSuggestion(scan scanFunc) (*model.MappingSuggestion, error) {
	var (
		sg                  model.MappingSuggestion
		scope, status       string
		approved, actual    string
		reasoning, decision sql.NullString
		rawPageRef          sql.NullInt64
	)
	err := scan(&sg.ID, &scope, &sg.FiscalYear, &sg.SourceField, &sg.SuggestedHead, &sg.SuggestedClass,
		&sg.Confidence, &reasoning, &rawPageRef, &approved, &actual, &status, &decision, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	sg.Scope = model.Scope(scope)
	sg.Status = model.MappingStatus(status)
	sg.Reasoning = reasoning.String
	sg.RawPageRef = int(rawPageRef.Int64)
	if sg.ApprovedAmount, err = decimal.NewFromString(approved); err != nil {
		return nil, eris.Wrapf(err, "parse approved amount %q", approved)
	}
	if sg.ActualAmount, err = decimal.NewFromString(actual); err != nil {
		return nil, eris.Wrapf(err, "parse actual amount %q", actual)
	}
	if decision.Valid && decision.String != "" {
		var d model.Decision
		if err := json.Unmarshal([]byte(decision.String), &d); err != nil {
			return nil, eris.Wrap(err, "unmarshal decision")
		}
		sg.Decision = &d
	}
	return &sg, nil
}

func scanAuditRecord(scan scanFunc) (*model.AuditRecord, error) {
	var (
		rec        model.AuditRecord
		supersedes sql.NullString
		resultJSON string
	)
	err := scan(&rec.Sequence, &rec.ID, &rec.SchemaVersion, &rec.Checksum, &supersedes, &resultJSON, &rec.EmittedAt)
	if err != nil {
		return nil, err
	}
	rec.SupersedesID = supersedes.String
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, eris.Wrap(err, "unmarshal audit result")
	}
	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

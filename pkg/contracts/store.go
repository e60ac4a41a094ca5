package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/praxis-systems/aegis/pkg/canon"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// Store persists contracts in one relational table; nested collections are
// serialized as JSON columns.
type Store struct {
	db      *sql.DB
	dialect string
}

// OpenStore connects by URL, picking Postgres for postgres:// schemes and
// SQLite otherwise, and runs migrations.
func OpenStore(databaseURL string) (*Store, error) {
	var (
		db      *sql.DB
		dialect string
		err     error
	)
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err = sql.Open("postgres", databaseURL)
		dialect = dialectPostgres
	} else {
		dsn := strings.TrimPrefix(databaseURL, "sqlite://")
		if dsn == "" {
			dsn = "file:contracts.db"
		}
		db, err = sql.Open("sqlite", dsn)
		dialect = dialectSQLite
	}
	if err != nil {
		return nil, fmt.Errorf("contracts: open database: %w", err)
	}
	if dialect == dialectSQLite {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL,
			clauses            TEXT NOT NULL DEFAULT '[]',
			parties            TEXT NOT NULL DEFAULT '[]',
			state              TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			proposed_at        TEXT,
			signed_at          TEXT,
			revoked_at         TEXT,
			expires_at         TEXT,
			signatures         TEXT NOT NULL DEFAULT '[]',
			is_hipaa_compliant BOOLEAN NOT NULL DEFAULT FALSE,
			hipaa_entities     TEXT NOT NULL DEFAULT '[]',
			metadata           TEXT NOT NULL DEFAULT '{}',
			version            TEXT NOT NULL DEFAULT '1.0.0',
			created_by         TEXT NOT NULL,
			last_modified      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_state ON contracts (state)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_created_by ON contracts (created_by)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("contracts: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const contractColumns = `id, title, description, clauses, parties, state, created_at,
	proposed_at, signed_at, revoked_at, expires_at, signatures, is_hipaa_compliant,
	hipaa_entities, metadata, version, created_by, last_modified`

// Insert persists a new contract row.
func (s *Store) Insert(ctx context.Context, c *Contract) error {
	args, err := rowArgs(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), args...)
	if err != nil {
		return fmt.Errorf("contracts: insert %s: %w", c.ID, err)
	}
	return nil
}

// Update rewrites every mutable column of an existing contract.
func (s *Store) Update(ctx context.Context, c *Contract) error {
	args, err := rowArgs(c)
	if err != nil {
		return err
	}
	// Shift id to the WHERE clause position.
	args = append(args[1:], c.ID.String())
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE contracts SET
		title = ?, description = ?, clauses = ?, parties = ?, state = ?, created_at = ?,
		proposed_at = ?, signed_at = ?, revoked_at = ?, expires_at = ?, signatures = ?,
		is_hipaa_compliant = ?, hipaa_entities = ?, metadata = ?, version = ?,
		created_by = ?, last_modified = ?
		WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("contracts: update %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return nil
}

// Get fetches one contract by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Contract, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id.String())
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("contracts: get %s: %w", id, err)
	}
	return c, nil
}

// List returns contracts, optionally filtered by state and creator, newest
// first.
func (s *Store) List(ctx context.Context, state *State, createdBy string) ([]*Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	var (
		conds []string
		args  []interface{}
	)
	if state != nil {
		conds = append(conds, "state = ?")
		args = append(args, string(*state))
	}
	if createdBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, createdBy)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: list: %w", err)
	}
	defer rows.Close()

	var out []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("contracts: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExpiredCandidates returns non-terminal contracts whose expiry has passed.
func (s *Store) ExpiredCandidates(ctx context.Context, now time.Time) ([]*Contract, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+contractColumns+` FROM contracts
		WHERE expires_at IS NOT NULL AND expires_at < ? AND state NOT IN (?, ?)`),
		canon.Time(now), string(StateExpired), string(StateRevoked))
	if err != nil {
		return nil, fmt.Errorf("contracts: expired candidates: %w", err)
	}
	defer rows.Close()

	var out []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("contracts: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByState returns contract counts per state.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM contracts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("contracts: count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int, len(States))
	for _, state := range States {
		counts[state] = 0
	}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("contracts: scan count: %w", err)
		}
		counts[State(state)] = count
	}
	return counts, rows.Err()
}

// CountHIPAACompliant returns the number of HIPAA-flagged contracts.
func (s *Store) CountHIPAACompliant(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contracts WHERE is_hipaa_compliant`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("contracts: count hipaa: %w", err)
	}
	return count, nil
}

func rowArgs(c *Contract) ([]interface{}, error) {
	clauses, err := json.Marshal(c.Clauses)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode clauses: %w", err)
	}
	parties, err := json.Marshal(c.Parties)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode parties: %w", err)
	}
	signatures, err := json.Marshal(c.Signatures)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode signatures: %w", err)
	}
	entities, err := json.Marshal(c.HIPAAEntities)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode hipaa entities: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode metadata: %w", err)
	}
	return []interface{}{
		c.ID.String(), c.Title, c.Description, string(clauses), string(parties),
		string(c.State), canon.Time(c.CreatedAt),
		nullableTime(c.ProposedAt), nullableTime(c.SignedAt),
		nullableTime(c.RevokedAt), nullableTime(c.ExpiresAt),
		string(signatures), c.IsHIPAACompliant, string(entities), string(metadata),
		c.Version, c.CreatedBy, canon.Time(c.LastModified),
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*Contract, error) {
	var (
		c            Contract
		id           string
		clauses      string
		parties      string
		signatures   string
		entities     string
		metadata     string
		state        string
		createdAt    string
		lastModified string
		proposedAt   sql.NullString
		signedAt     sql.NullString
		revokedAt    sql.NullString
		expiresAt    sql.NullString
	)
	err := row.Scan(&id, &c.Title, &c.Description, &clauses, &parties, &state,
		&createdAt, &proposedAt, &signedAt, &revokedAt, &expiresAt, &signatures,
		&c.IsHIPAACompliant, &entities, &metadata, &c.Version, &c.CreatedBy, &lastModified)
	if err != nil {
		return nil, err
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	c.State = State(state)
	if err := json.Unmarshal([]byte(clauses), &c.Clauses); err != nil {
		return nil, fmt.Errorf("parse clauses: %w", err)
	}
	if err := json.Unmarshal([]byte(parties), &c.Parties); err != nil {
		return nil, fmt.Errorf("parse parties: %w", err)
	}
	if err := json.Unmarshal([]byte(signatures), &c.Signatures); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &c.HIPAAEntities); err != nil {
		return nil, fmt.Errorf("parse hipaa entities: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.LastModified, err = time.Parse(time.RFC3339Nano, lastModified); err != nil {
		return nil, fmt.Errorf("parse last_modified: %w", err)
	}
	for _, pair := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{proposedAt, &c.ProposedAt},
		{signedAt, &c.SignedAt},
		{revokedAt, &c.RevokedAt},
		{expiresAt, &c.ExpiresAt},
	} {
		if !pair.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, pair.src.String)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		*pair.dst = &t
	}
	return &c, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return canon.Time(*t)
}

package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists contracts via database/sql. It is driver-agnostic: the
// caller opens *sql.DB with whichever driver matches the DSN (lib/pq for
// postgres://, mattn/go-sqlite3 for file-based DSNs) and passes it in.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect dialect
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// NewSQLStore wires a store against an already-open *sql.DB. driverName is
// the value passed to sql.Open ("postgres" or "sqlite3"), used only to
// select placeholder syntax.
func NewSQLStore(db *sql.DB, driverName, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("contracts: db is nil")
	}
	if table == "" {
		table = "hookservice_contracts"
	}
	d := dialectPostgres
	if strings.Contains(strings.ToLower(driverName), "sqlite") {
		d = dialectSQLite
	}
	return &SQLStore{db: db, table: table, dialect: d}, nil
}

// EnsureSchema creates the backing table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	var q string
	switch s.dialect {
	case dialectSQLite:
		q = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  definition_json TEXT NOT NULL,
  ttl_expires_at TIMESTAMP,
  updated_at TIMESTAMP NOT NULL
);`, s.table)
	default:
		q = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  definition_json TEXT NOT NULL,
  ttl_expires_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ NOT NULL
);`, s.table)
	}
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// storedDefinition is the JSON-serializable shape of a Contract; Criterion
// values keep their original config-shaped "match" value so NewCriterion
// can rebuild them on load.
type storedDefinition struct {
	SourceMatch  any               `json:"source_match"`
	TypeMatch    any               `json:"type_match"`
	PropMatches  []storedPropMatch `json:"property_matches,omitempty"`
	Target       Target            `json:"target"`
	TTLExpiresAt time.Time         `json:"ttl_expires_at,omitempty"`
}

type storedPropMatch struct {
	Key   string `json:"key"`
	Match any    `json:"match"`
}

func (s *SQLStore) Put(ctx context.Context, c Contract) error {
	def := storedDefinition{
		SourceMatch:  c.SourceCriterion.raw,
		TypeMatch:    c.TypeCriterion.raw,
		Target:       c.Target,
		TTLExpiresAt: c.TTLExpiresAt,
	}
	for _, pc := range c.PropertyCriteria {
		def.PropMatches = append(def.PropMatches, storedPropMatch{Key: pc.Key, Match: pc.Criterion.raw})
	}
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("contracts: marshal definition: %w", err)
	}

	var q string
	switch s.dialect {
	case dialectSQLite:
		q = fmt.Sprintf(`
INSERT INTO %s (id, definition_json, ttl_expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  definition_json = excluded.definition_json,
  ttl_expires_at = excluded.ttl_expires_at,
  updated_at = excluded.updated_at;`, s.table)
	default:
		q = fmt.Sprintf(`
INSERT INTO %s (id, definition_json, ttl_expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  definition_json = EXCLUDED.definition_json,
  ttl_expires_at = EXCLUDED.ttl_expires_at,
  updated_at = EXCLUDED.updated_at;`, s.table)
	}

	var ttl any
	if !c.TTLExpiresAt.IsZero() {
		ttl = c.TTLExpiresAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, q, c.ID, string(b), ttl, time.Now().UTC())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	var q string
	switch s.dialect {
	case dialectSQLite:
		q = fmt.Sprintf("DELETE FROM %s WHERE id = ?;", s.table)
	default:
		q = fmt.Sprintf("DELETE FROM %s WHERE id = $1;", s.table)
	}
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) List(ctx context.Context) ([]Contract, error) {
	q := fmt.Sprintf("SELECT id, definition_json FROM %s;", s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var id, defJSON string
		if err := rows.Scan(&id, &defJSON); err != nil {
			return nil, err
		}
		c, err := decodeStoredDefinition(id, defJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeStoredDefinition(id, defJSON string) (Contract, error) {
	var def storedDefinition
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return Contract{}, fmt.Errorf("contracts: decode definition %q: %w", id, err)
	}
	sc, err := NewCriterion(def.SourceMatch)
	if err != nil {
		return Contract{}, err
	}
	tc, err := NewCriterion(def.TypeMatch)
	if err != nil {
		return Contract{}, err
	}
	props := make([]PropertyCriterion, 0, len(def.PropMatches))
	for _, pm := range def.PropMatches {
		crit, err := NewCriterion(pm.Match)
		if err != nil {
			return Contract{}, err
		}
		props = append(props, PropertyCriterion{Key: pm.Key, Criterion: crit})
	}
	return Contract{
		ID:               id,
		SourceCriterion:  sc,
		TypeCriterion:    tc,
		PropertyCriteria: props,
		Target:           def.Target,
		Origin:           OriginPersisted,
		TTLExpiresAt:     def.TTLExpiresAt,
	}, nil
}

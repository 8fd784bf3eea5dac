// Package records is the off-chain position ledger, kept in SQLite.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ligun0805/stakeflow/internal/reconcile"
)

// ErrDuplicate is returned by Insert when the position is already recorded.
var ErrDuplicate = errors.New("position already recorded")

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	contract       TEXT NOT NULL,
	position_id    INTEGER NOT NULL,
	kind           TEXT NOT NULL,
	plan_or_node   INTEGER NOT NULL,
	principal      TEXT NOT NULL,
	lock_duration  INTEGER,
	start_time     TEXT NOT NULL,
	unlock_time    TEXT,
	tx_hash        TEXT NOT NULL,
	status         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	UNIQUE (owner, contract, position_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner);
`

// Record is a stored position.
type Record struct {
	ID        string
	CreatedAt time.Time
	reconcile.PositionRecord
}

// Store implements reconcile.Sink.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ reconcile.Sink = (*Store)(nil)

// Open opens (and creates) the database at path and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, log: log.With().Str("repo", "positions").Logger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds rec. A position that is already stored gives ErrDuplicate.
func (s *Store) Insert(ctx context.Context, rec reconcile.PositionRecord) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO positions
		(id, owner, contract, position_id, kind, plan_or_node, principal,
		 lock_duration, start_time, unlock_time, tx_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, contract, position_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		id,
		rec.Owner.Hex(),
		rec.Contract.Hex(),
		int64(rec.PositionID),
		rec.Kind,
		int64(rec.PlanOrNodeID),
		rec.Principal.String(),
		nullUint64(rec.LockDuration),
		rec.StartTime.UTC().Format(time.RFC3339),
		nullTime(rec.UnlockTime),
		rec.TxHash.Hex(),
		rec.Status,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to insert position: %w", err)
	}
	if n == 0 {
		return "", ErrDuplicate
	}
	return id, nil
}

// Write stores rec; a repeated write of the same position is a no-op.
func (s *Store) Write(ctx context.Context, rec reconcile.PositionRecord) error {
	id, err := s.Insert(ctx, rec)
	if errors.Is(err, ErrDuplicate) {
		s.log.Debug().Uint64("position", rec.PositionID).Msg("Position already recorded")
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info().
		Str("id", id).
		Str("owner", rec.Owner.Hex()).
		Uint64("position", rec.PositionID).
		Msg("Position recorded")
	return nil
}

// List returns the owner's positions, newest first.
func (s *Store) List(ctx context.Context, owner common.Address) ([]Record, error) {
	query := `
		SELECT id, owner, contract, position_id, kind, plan_or_node, principal,
		       lock_duration, start_time, unlock_time, tx_hash, status, created_at
		FROM positions
		WHERE owner = ?
		ORDER BY start_time DESC, position_id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                    Record
		owner, contract      string
		positionID, planNode int64
		principal            string
		lock                 sql.NullInt64
		start, created       string
		unlock               sql.NullString
		txHash               string
	)
	if err := rows.Scan(&r.ID, &owner, &contract, &positionID, &r.Kind, &planNode, &principal,
		&lock, &start, &unlock, &txHash, &r.Status, &created); err != nil {
		return Record{}, err
	}

	p, ok := new(big.Int).SetString(principal, 10)
	if !ok {
		return Record{}, fmt.Errorf("bad principal %q", principal)
	}
	st, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Record{}, fmt.Errorf("bad start_time: %w", err)
	}

	r.Owner = common.HexToAddress(owner)
	r.Contract = common.HexToAddress(contract)
	r.PositionID = uint64(positionID)
	r.PlanOrNodeID = uint64(planNode)
	r.Principal = p
	r.StartTime = st
	r.TxHash = common.HexToHash(txHash)
	if lock.Valid {
		v := uint64(lock.Int64)
		r.LockDuration = &v
	}
	if unlock.Valid {
		t, err := time.Parse(time.RFC3339, unlock.String)
		if err != nil {
			return Record{}, fmt.Errorf("bad unlock_time: %w", err)
		}
		r.UnlockTime = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, nil
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

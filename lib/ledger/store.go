// Package ledger persists per-account offering outcomes across runs.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"ipoclerk/lib/ledger/db"
	"ipoclerk/lib/timezone"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Open opens (and initializes, if needed) a ledger database at path.
// `:memory:` is accepted for tests.
func Open(path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	_, err = database.Exec(db.Schema)
	if err != nil {
		return Store{}, err
	}
	return NewStore(database), nil
}

// Load returns the persisted snapshot for an account. A missing row or a
// row whose payload no longer parses degrades to an empty snapshot, prior
// state is an optimization and must never fail a run.
func (s Store) Load(ctx context.Context, account string) (Snapshot, error) {
	var lastUpdated int64
	var items string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT last_updated, items FROM outcome_snapshot WHERE account = ?`,
		account,
	).Scan(&lastUpdated, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		slog.WarnContext(ctx, "ledger read failed, treating as empty", "account", account, "err", err)
		return Snapshot{}, nil
	}

	var records []Record
	err = json.Unmarshal([]byte(items), &records)
	if err != nil {
		slog.WarnContext(ctx, "ledger row is malformed, treating as empty", "account", account, "err", err)
		return Snapshot{}, nil
	}

	return Snapshot{
		LastUpdated: time.Unix(lastUpdated, 0).In(timezone.Location),
		Items:       records,
	}, nil
}

// Save replaces the account's entire record set. Last successful write
// wins, there is no merge at this layer.
func (s Store) Save(ctx context.Context, account string, records []Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO outcome_snapshot (account, last_updated, items) VALUES (?, ?, ?)
		 ON CONFLICT (account) DO UPDATE SET last_updated = excluded.last_updated, items = excluded.items`,
		account,
		timezone.Now().Unix(),
		string(payload),
	)
	return err
}

// Accounts lists every account with a persisted snapshot.
func (s Store) Accounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account FROM outcome_snapshot ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

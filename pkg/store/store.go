// Package store allocates cross-platform correlation ids. Every relayed
// message gets one row in a SQLite database; the row id is the pipo id
// shared by all transports so the same logical message can be found in
// each platform's own id space.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY,
	slackid   TEXT,
	discordid INTEGER,
	modtime   DEFAULT (strftime('%Y-%m-%d %H:%M:%S:%s', 'now', 'localtime'))
);
CREATE TRIGGER IF NOT EXISTS updatemodtime
BEFORE UPDATE ON messages
BEGIN
	UPDATE messages SET modtime = strftime('%Y-%m-%d %H:%M:%S:%s', 'now', 'localtime')
	WHERE id = old.id;
END;`

// Store is the SQLite-backed correlation id allocator.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the message database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open message database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert allocates a new correlation id. Ids are strictly increasing
// for the lifetime of the database.
func (s *Store) Insert(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO messages DEFAULT VALUES")
	if err != nil {
		return 0, fmt.Errorf("insert message row: %w", err)
	}
	return res.LastInsertId()
}

// InsertSlackID allocates a correlation id already bound to a Slack
// message id. Used by transports whose platform assigns ids at send time.
func (s *Store) InsertSlackID(ctx context.Context, slackID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (slackid) VALUES (?)", slackID)
	if err != nil {
		return 0, fmt.Errorf("insert message row: %w", err)
	}
	return res.LastInsertId()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package sqlite is the reference store adapter, backed by a local SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/isometry/ldapsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL UNIQUE REFERENCES users(id),
	external_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
`

// Open opens (or creates) a sqlite database at the given path and ensures
// parent directories exist.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// single writer keeps profile uniqueness checks ordered
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return db, nil
}

// Store implements store.Adapter on a SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, first_name, last_name, email
FROM users
WHERE username = ?`,
		username,
	)

	var u store.User
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.StoreError{Op: "find user", Err: err}
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (username, first_name, last_name, email)
VALUES (?, ?, ?, ?)`,
		user.Username, user.FirstName, user.LastName, user.Email,
	)
	if err != nil {
		return &store.StoreError{Op: "create user", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return &store.StoreError{Op: "create user", Err: err}
	}
	user.ID = id
	return nil
}

func (s *Store) SaveUser(ctx context.Context, user *store.User) error {
	if _, err := s.db.ExecContext(ctx, `
UPDATE users
SET first_name = ?, last_name = ?, email = ?
WHERE id = ?`,
		user.FirstName, user.LastName, user.Email, user.ID,
	); err != nil {
		return &store.StoreError{Op: "save user", Err: err}
	}
	return nil
}

func (s *Store) GetOrInitProfile(ctx context.Context, user *store.User) (*store.Profile, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, external_id
FROM profiles
WHERE user_id = ?`,
		user.ID,
	)

	var p store.Profile
	if err := row.Scan(&p.ID, &p.UserID, &p.ExternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &store.Profile{UserID: user.ID}, false, nil
		}
		return nil, false, &store.StoreError{Op: "get profile", Err: err}
	}
	return &p, true, nil
}

func (s *Store) SaveProfile(ctx context.Context, profile *store.Profile) error {
	var err error
	if profile.ID == 0 {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, `
INSERT INTO profiles (user_id, external_id)
VALUES (?, ?)`,
			profile.UserID, profile.ExternalID,
		)
		if err == nil {
			if id, idErr := res.LastInsertId(); idErr == nil {
				profile.ID = id
			}
		}
	} else {
		_, err = s.db.ExecContext(ctx, `
UPDATE profiles
SET external_id = ?
WHERE id = ?`,
			profile.ExternalID, profile.ID,
		)
	}

	if err != nil {
		if isExternalIDConflict(err) {
			return &store.ConflictError{ExternalID: profile.ExternalID, Err: err}
		}
		return &store.StoreError{Op: "save profile", Err: err}
	}
	return nil
}

func (s *Store) FindGroupByName(ctx context.Context, name string) (*store.Group, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name
FROM groups
WHERE name = ?`,
		name,
	)

	var g store.Group
	if err := row.Scan(&g.ID, &g.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.StoreError{Op: "find group", Err: err}
	}
	return &g, nil
}

func (s *Store) CreateGroup(ctx context.Context, group *store.Group) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO groups (name)
VALUES (?)`,
		group.Name,
	)
	if err != nil {
		return &store.StoreError{Op: "create group", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return &store.StoreError{Op: "create group", Err: err}
	}
	group.ID = id
	return nil
}

// isExternalIDConflict reports whether err is a uniqueness violation on
// profiles.external_id specifically. Other constraint failures on the
// table (profiles.user_id is unique too) are not external-id conflicts.
func isExternalIDConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") && strings.Contains(msg, "profiles.external_id")
}

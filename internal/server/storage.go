package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"numbergame/internal/game"
)

var (
	// ErrUnknownUser means a token or login named a user that has no row.
	ErrUnknownUser = errors.New("unknown user")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
)

// MatchEntry is an archived match as listed in a player's history.
type MatchEntry struct {
	ID        int64             `json:"id"`
	RoomCode  string            `json:"roomCode"`
	Player1ID *int64            `json:"player1Id"`
	Player2ID *int64            `json:"player2Id"`
	WinnerID  *int64            `json:"winnerId"`
	StartedAt *time.Time        `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt"`
	DiceRolls []game.DiceRoll   `json:"diceRolls"`
	Guesses   []game.GuessEvent `json:"guesses"`
}

// Store is the sqlite-backed user directory and match archive.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// openDatabase prepares a SQLite database at the given path and ensures the schema exists.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("ensure db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			nickname TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_code TEXT NOT NULL,
			player1_id INTEGER,
			player2_id INTEGER,
			winner_id INTEGER,
			started_at INTEGER,
			ended_at INTEGER NOT NULL,
			dice_rolls TEXT NOT NULL,
			guesses TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches(ended_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_winner ON matches(winner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches(player1_id);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches(player2_id);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return nil
}

// LookupUser loads a user by id. Nickname falls back to the username.
func (s *Store) LookupUser(ctx context.Context, id int64) (game.Identity, error) {
	var user game.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, nickname FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Username, &user.Nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Identity{}, ErrUnknownUser
	}
	if err != nil {
		return game.Identity{}, fmt.Errorf("lookup user %d: %w", id, err)
	}
	if user.Nickname == "" {
		user.Nickname = user.Username
	}
	return user, nil
}

// CreateUser registers an account. The nickname starts out as the
// username.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (game.Identity, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, nickname, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		username, username, passwordHash, time.Now().UTC().UnixMilli())
	if isUniqueViolation(err) {
		return game.Identity{}, ErrUsernameTaken
	}
	if err != nil {
		return game.Identity{}, fmt.Errorf("create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return game.Identity{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return game.Identity{ID: id, Username: username, Nickname: username}, nil
}

// Credentials loads a user and its password hash by username.
func (s *Store) Credentials(ctx context.Context, username string) (game.Identity, string, error) {
	var (
		user game.Identity
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, nickname, password_hash FROM users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &user.Nickname, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Identity{}, "", ErrUnknownUser
	}
	if err != nil {
		return game.Identity{}, "", fmt.Errorf("load credentials %q: %w", username, err)
	}
	if user.Nickname == "" {
		user.Nickname = user.Username
	}
	return user, hash, nil
}

// UpdateNickname changes the display name of a user.
func (s *Store) UpdateNickname(ctx context.Context, id int64, nickname string) (game.Identity, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET nickname = ? WHERE id = ?`, nickname, id)
	if err != nil {
		return game.Identity{}, fmt.Errorf("update user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return game.Identity{}, ErrUnknownUser
	}
	return s.LookupUser(ctx, id)
}

// RecordMatch appends a finished game.
func (s *Store) RecordMatch(ctx context.Context, rec game.MatchRecord) error {
	dice, err := json.Marshal(orEmpty(rec.DiceRolls))
	if err != nil {
		return fmt.Errorf("encode dice rolls: %w", err)
	}
	guesses, err := json.Marshal(orEmpty(rec.Guesses))
	if err != nil {
		return fmt.Errorf("encode guesses: %w", err)
	}

	var startedAt any
	if !rec.StartedAt.IsZero() {
		startedAt = rec.StartedAt.UTC().UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matches (room_code, player1_id, player2_id, winner_id, started_at, ended_at, dice_rolls, guesses)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RoomCode,
		nullableID(rec.Players[0].ID),
		nullableID(rec.Players[1].ID),
		rec.WinnerID,
		startedAt,
		rec.EndedAt.UTC().UnixMilli(),
		string(dice),
		string(guesses),
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", rec.RoomCode, err)
	}
	return nil
}

// MatchHistory lists the most recent matches a user played, newest first.
func (s *Store) MatchHistory(ctx context.Context, userID int64, limit int) ([]MatchEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_code, player1_id, player2_id, winner_id, started_at, ended_at, dice_rolls, guesses
		 FROM matches
		 WHERE player1_id = ? OR player2_id = ?
		 ORDER BY ended_at DESC, id DESC
		 LIMIT ?`,
		userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches for %d: %w", userID, err)
	}
	defer rows.Close()

	entries := []MatchEntry{}
	for rows.Next() {
		var (
			entry             MatchEntry
			p1, p2, winner    sql.NullInt64
			startedAt         sql.NullInt64
			endedAt           int64
			diceRaw, guessRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.RoomCode, &p1, &p2, &winner, &startedAt, &endedAt, &diceRaw, &guessRaw); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		entry.Player1ID = nullInt64Ptr(p1)
		entry.Player2ID = nullInt64Ptr(p2)
		entry.WinnerID = nullInt64Ptr(winner)
		if startedAt.Valid {
			t := time.UnixMilli(startedAt.Int64).UTC()
			entry.StartedAt = &t
		}
		entry.EndedAt = time.UnixMilli(endedAt).UTC()
		if err := json.Unmarshal([]byte(diceRaw), &entry.DiceRolls); err != nil {
			return nil, fmt.Errorf("decode dice rolls of match %d: %w", entry.ID, err)
		}
		if err := json.Unmarshal([]byte(guessRaw), &entry.Guesses); err != nil {
			return nil, fmt.Errorf("decode guesses of match %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list matches for %d: %w", userID, err)
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

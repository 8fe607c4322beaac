package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 50
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return errors.Wrap(err, "enable foreign keys")
	}
	query := `
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at    DATETIME NOT NULL,
		group_name    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS groups (
		name        TEXT PRIMARY KEY,
		color       TEXT NOT NULL,
		permissions TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS pastes (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		author     TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS comments (
		id         TEXT PRIMARY KEY,
		paste_id   TEXT NOT NULL REFERENCES pastes(id),
		author     TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS paste_views (
		paste_id TEXT NOT NULL REFERENCES pastes(id),
		ip       TEXT NOT NULL,
		PRIMARY KEY (paste_id, ip)
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_created ON pastes(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_pastes_author ON pastes(author);
	CREATE INDEX IF NOT EXISTS idx_comments_paste ON comments(paste_id);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return errors.WithMessage(domain.ErrStorage, "circuit breaker open")
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

// storageErr classifies a storage failure as domain.ErrStorage while keeping
// the cause text in the wrapped message for server-side logs.
func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(domain.ErrStorage, op+": "+err.Error())
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

/* ---------- users ---------- */

func (s *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO users (username, password_hash, created_at, group_name) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q, u.Username, u.PasswordHash, u.CreatedAt, u.Group)
	if isConstraintErr(err) {
		return domain.ErrUsernameTaken
	}
	s.recordError(err)
	return storageErr(err, "create user")
}

func (s *SQLite) GetUser(ctx context.Context, username string) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT username, password_hash, created_at, group_name FROM users WHERE username = ?`
	var u domain.User
	err := s.db.QueryRowContext(queryCtx, q, username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt, &u.Group)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, storageErr(err, "get user")
	}
	return &u, nil
}

/* ---------- groups ---------- */

func (s *SQLite) GetGroup(ctx context.Context, name string) (*domain.Group, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT name, color, permissions FROM groups WHERE name = ?`
	var g domain.Group
	var perms string
	err := s.db.QueryRowContext(queryCtx, q, name).Scan(&g.Name, &g.Color, &perms)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	s.recordError(err)
	if err != nil {
		return nil, storageErr(err, "get group")
	}
	if err := json.Unmarshal([]byte(perms), &g.Permissions); err != nil {
		return nil, storageErr(err, "decode group permissions")
	}
	return &g, nil
}

// SeedGroups inserts defaults only when the groups table is empty, so a
// partial earlier seed is never duplicated.
func (s *SQLite) SeedGroups(ctx context.Context, groups []domain.Group) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return storageErr(err, "seed groups begin")
	}
	defer tx.Rollback()
	var count int
	if err := tx.QueryRowContext(queryCtx, `SELECT COUNT(*) FROM groups`).Scan(&count); err != nil {
		s.recordError(err)
		return storageErr(err, "seed groups count")
	}
	if count > 0 {
		return nil
	}
	for _, g := range groups {
		perms, err := json.Marshal(g.Permissions)
		if err != nil {
			return storageErr(err, "encode group permissions")
		}
		if _, err := tx.ExecContext(queryCtx,
			`INSERT INTO groups (name, color, permissions) VALUES (?, ?, ?)`,
			g.Name, g.Color, string(perms)); err != nil {
			s.recordError(err)
			return storageErr(err, "seed groups insert")
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return storageErr(err, "seed groups commit")
	}
	return nil
}

/* ---------- pastes ---------- */

func (s *SQLite) CreatePaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO pastes (id, title, content, author, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q, p.ID, p.Title, p.Content, p.Author, p.CreatedAt)
	s.recordError(err)
	return storageErr(err, "create paste")
}

func (s *SQLite) PasteExists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, storageErr(err, "paste exists")
	}
	return exists == 1, nil
}

func (s *SQLite) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var p domain.Paste
	q := `SELECT id, title, content, author, created_at FROM pastes WHERE id = ?`
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&p.ID, &p.Title, &p.Content, &p.Author, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, storageErr(err, "get paste")
	}

	rows, err := s.db.QueryContext(queryCtx,
		`SELECT id, author, content, created_at FROM comments WHERE paste_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		s.recordError(err)
		return nil, storageErr(err, "get paste comments")
	}
	defer rows.Close()
	p.Comments = []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			s.recordError(err)
			return nil, storageErr(err, "scan comment")
		}
		p.Comments = append(p.Comments, c)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, storageErr(err, "iterate comments")
	}

	viewRows, err := s.db.QueryContext(queryCtx,
		`SELECT ip FROM paste_views WHERE paste_id = ?`, id)
	if err != nil {
		s.recordError(err)
		return nil, storageErr(err, "get paste views")
	}
	defer viewRows.Close()
	p.Views = []string{}
	for viewRows.Next() {
		var ip string
		if err := viewRows.Scan(&ip); err != nil {
			s.recordError(err)
			return nil, storageErr(err, "scan view")
		}
		p.Views = append(p.Views, ip)
	}
	if err := viewRows.Err(); err != nil {
		s.recordError(err)
		return nil, storageErr(err, "iterate views")
	}
	return &p, nil
}

func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]domain.Paste, error) {
	return s.listPastes(ctx,
		`SELECT id, title, content, author, created_at FROM pastes ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit)
}

// Search matches a case-insensitive substring over title or content,
// newest first. LIKE metacharacters in the query are escaped so they match
// literally.
func (s *SQLite) Search(ctx context.Context, query string, limit int) ([]domain.Paste, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.listPastes(ctx,
		`SELECT id, title, content, author, created_at FROM pastes
		 WHERE lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		pattern, pattern, limit)
}

func (s *SQLite) ListByAuthor(ctx context.Context, author string) ([]domain.Paste, error) {
	return s.listPastes(ctx,
		`SELECT id, title, content, author, created_at FROM pastes WHERE author = ? ORDER BY created_at DESC, rowid DESC`,
		author)
}

func (s *SQLite) listPastes(ctx context.Context, q string, args ...interface{}) ([]domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, q, args...)
	if err != nil {
		s.recordError(err)
		return nil, storageErr(err, "list pastes")
	}
	defer rows.Close()
	var out []domain.Paste
	for rows.Next() {
		var p domain.Paste
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Author, &p.CreatedAt); err != nil {
			s.recordError(err)
			return nil, storageErr(err, "scan paste")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, storageErr(err, "iterate pastes")
	}
	s.recordError(nil)
	return out, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ListWithAuthor is the enriched listing read path: one query joining each
// paste with its author's display name and group color, view counts via a
// correlated subquery. Authors without a user row (Anonymous) or with an
// unresolvable group fall back to neutralColor instead of failing the page.
func (s *SQLite) ListWithAuthor(ctx context.Context, query string, limit int, neutralColor string) ([]domain.PasteListing, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	q := `
	SELECT p.id, p.title, p.created_at,
	       (SELECT COUNT(*) FROM paste_views v WHERE v.paste_id = p.id) AS views,
	       p.author,
	       COALESCE(g.color, ?) AS author_color
	FROM pastes p
	LEFT JOIN users u ON u.username = p.author
	LEFT JOIN groups g ON g.name = u.group_name
	`
	args := []interface{}{neutralColor}
	if query != "" {
		pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
		q += ` WHERE lower(p.title) LIKE ? ESCAPE '\' OR lower(p.content) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY p.created_at DESC, p.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(queryCtx, q, args...)
	if err != nil {
		s.recordError(err)
		return nil, storageErr(err, "list with author")
	}
	defer rows.Close()
	out := []domain.PasteListing{}
	for rows.Next() {
		var l domain.PasteListing
		if err := rows.Scan(&l.ID, &l.Title, &l.CreatedAt, &l.Views, &l.AuthorName, &l.AuthorColor); err != nil {
			s.recordError(err)
			return nil, storageErr(err, "scan listing")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, storageErr(err, "iterate listings")
	}
	s.recordError(nil)
	return out, nil
}

/* ---------- views and comments ---------- */

// AddView records ip for a paste at most once and reports whether a new row
// landed. The insert-if-absent is a single statement, so concurrent views
// from the same ip cannot both land.
func (s *SQLite) AddView(ctx context.Context, id, ip string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT OR IGNORE INTO paste_views (paste_id, ip)
	      SELECT ?, ? WHERE EXISTS (SELECT 1 FROM pastes WHERE id = ?)`
	res, err := s.db.ExecContext(queryCtx, q, id, ip, id)
	s.recordError(err)
	if err != nil {
		return false, storageErr(err, "add view")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddComment appends a comment inside a transaction: the paste existence
// check and the insert commit together or not at all.
func (s *SQLite) AddComment(ctx context.Context, pasteID string, c *domain.Comment) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return storageErr(err, "add comment begin")
	}
	defer tx.Rollback()
	var exists int
	err = tx.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, pasteID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.ErrPasteNotFound
	}
	if err != nil {
		s.recordError(err)
		return storageErr(err, "add comment check")
	}
	_, err = tx.ExecContext(queryCtx,
		`INSERT INTO comments (id, paste_id, author, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, pasteID, c.Author, c.Content, c.CreatedAt)
	if err != nil {
		s.recordError(err)
		return storageErr(err, "add comment insert")
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return storageErr(err, "add comment commit")
	}
	s.recordError(nil)
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

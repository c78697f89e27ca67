package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps sessions in a SQLite table of (sid, sess JSON, expire ms).
type SQLStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewSQLStore returns a store over table, creating it if missing.
func NewSQLStore(ctx context.Context, db *sql.DB, table string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("session store: nil db")
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("session store: invalid table name %q", table)
	}
	s := &SQLStore{db: db, table: table, now: time.Now}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			sid TEXT PRIMARY KEY NOT NULL,
			sess TEXT NOT NULL,
			expire INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table + `_expire_idx ON ` + s.table + ` (expire)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table + `_token_idx ON ` + s.table + ` (json_extract(sess, '$.token'))`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create session table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		sess   Session
		blob   string
		expire int64
	)
	if err := row.Scan(&sess.ID, &blob, &expire); err != nil {
		return nil, err
	}
	p, err := decodePayload([]byte(blob))
	if err != nil {
		return nil, err
	}
	sess.Payload = p
	sess.Expires = time.UnixMilli(expire)
	sess.persisted = true
	return &sess, nil
}

func (s *SQLStore) Load(ctx context.Context, sid string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sid, sess, expire FROM `+s.table+` WHERE sid = ? AND expire > ?`,
		sid, s.now().UnixMilli(),
	)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	blob, err := encodePayload(sess.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (sid, sess, expire) VALUES (?, ?, ?)
		ON CONFLICT (sid) DO UPDATE SET sess = excluded.sess, expire = excluded.expire`,
		sess.ID, string(blob), sess.Expires.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	sess.markSaved()
	return nil
}

func (s *SQLStore) FindOne(ctx context.Context, match Payload) (*Session, error) {
	if len(match) == 0 {
		return nil, errors.New("find session: empty predicate")
	}
	keys := make([]string, 0, len(match))
	for k := range match {
		if !identRe.MatchString(k) {
			return nil, fmt.Errorf("find session: invalid payload key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := []string{"expire > ?"}
	args := []any{s.now().UnixMilli()}
	for _, k := range keys {
		v, err := sqlMatchArg(match[k])
		if err != nil {
			return nil, fmt.Errorf("find session: key %q: %w", k, err)
		}
		conds = append(conds, `json_extract(sess, '$.`+k+`') = ?`)
		args = append(args, v)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT sid, sess, expire FROM `+s.table+` WHERE `+strings.Join(conds, " AND ")+` ORDER BY expire DESC LIMIT 1`,
		args...,
	)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

func sqlMatchArg(v any) (any, error) {
	switch v := v.(type) {
	case string, int, int64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return nil, fmt.Errorf("unsupported predicate value %T", v)
}

func (s *SQLStore) Promote(ctx context.Context, sess *Session, token string) error {
	blob, err := encodePayload(sess.Payload)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table+` SET sess = ?, expire = ?
		WHERE sid = ? AND json_extract(sess, '$.token') = ? AND expire > ?`,
		string(blob), sess.Expires.UnixMilli(), sess.ID, token, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("promote session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrTokenConsumed
	}
	sess.markSaved()
	return nil
}

func (s *SQLStore) Touch(ctx context.Context, sid string, expires time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table+` SET expire = ? WHERE sid = ? AND expire > ?`,
		expires.UnixMilli(), sid, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE sid = ?`, sid)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE expire <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

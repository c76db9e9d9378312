package cipherstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
	_ "github.com/mattn/go-sqlite3"
)

var ErrSessionClosed = errors.New("cipherstore: session closed")

// Store opens database files through a SQLCipher-capable database/sql
// driver. The default "sqlite3" driver is mattn/go-sqlite3; the cipher
// pragmas only take effect when it is linked against SQLCipher.
type Store struct {
	driver string
	log    *logger.Logger
}

var _ ports.EncryptedStore = (*Store)(nil)

func New(driver string, log *logger.Logger) *Store {
	if driver == "" {
		driver = "sqlite3"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{driver: driver, log: log}
}

// Open pins a single connection: key pragmas are per connection, so every
// statement of a session must run on the same one.
func (s *Store) Open(ctx context.Context, path string) (ports.StoreSession, error) {
	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect %s: %w", path, err)
	}
	s.log.Debugw("cipherstore_open_ok", "path", path)
	return &session{db: db, conn: conn, path: path, log: s.log}, nil
}

type session struct {
	db   *sql.DB
	conn *sql.Conn
	path string
	log  *logger.Logger
}

func (s *session) Exec(ctx context.Context, stmt string) error {
	if s.conn == nil {
		return ErrSessionClosed
	}
	// PRAGMA statements may return rows; drain them so the conn is free.
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func (s *session) ExportTo(ctx context.Context, path, key string) error {
	if s.conn == nil {
		return ErrSessionClosed
	}
	attach := fmt.Sprintf("ATTACH DATABASE %s AS export KEY %s;", literal(path), literal(key))
	if err := s.Exec(ctx, attach); err != nil {
		return fmt.Errorf("failed to attach export: %w", err)
	}
	exportErr := s.Exec(ctx, "SELECT sqlcipher_export('export');")
	detachErr := s.Exec(ctx, "DETACH DATABASE export;")
	if exportErr != nil {
		return fmt.Errorf("failed to export %s: %w", s.path, exportErr)
	}
	if detachErr != nil {
		return fmt.Errorf("failed to detach export: %w", detachErr)
	}
	s.log.Infow("cipherstore_export_ok", "src", s.path, "dest", path)
	return nil
}

func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	s.conn = nil
	return err
}

func literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

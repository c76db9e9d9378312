package ports

import "context"

// EncryptedStore opens key-protected database files.
type EncryptedStore interface {
	Open(ctx context.Context, path string) (StoreSession, error)
}

type StoreSession interface {
	Exec(ctx context.Context, stmt string) error
	// ExportTo copies the open database into a new file protected by key.
	// An empty key writes a plain database.
	ExportTo(ctx context.Context, path, key string) error
	Close() error
}

package ports

import (
	"context"
	"errors"
)

var (
	ErrNoDevice      = errors.New("device: no device connected")
	ErrArchiveDecode = errors.New("archive: stream could not be decoded")
)

// DeviceTransport enumerates reachable handsets and hands out a session to
// the first one.
type DeviceTransport interface {
	ListDevices(ctx context.Context) ([]string, error)
	Current(ctx context.Context) (Device, error)
}

// Device is a session on one handset. Calls block until the remote side has
// finished; they are not interrupted by task stops.
type Device interface {
	Serial() string
	Shell(ctx context.Context, cmd string) (string, error)
	PullFile(ctx context.Context, remotePath, localPath string) error
	StreamArchive(ctx context.Context, dir, entry string) ([]byte, error)
	Close() error
}

// ArchiveExtractor unpacks an archive stream produced by Device.StreamArchive.
// Streams that cannot be decoded yield an error matching ErrArchiveDecode.
type ArchiveExtractor interface {
	Extract(data []byte, destDir string) error
}

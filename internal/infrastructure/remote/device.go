package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

// sshDevice is a session on one handset reached over ssh. Shell commands
// and archive streams share the endpoint's rate limiter; file pulls go over
// sftp on the same connection.
type sshDevice struct {
	serial  string
	exec    *SSHClient
	client  *ssh.Client
	limiter *rate.Limiter
	log     *logger.Logger

	mu   sync.Mutex
	sftp *sftp.Client

	closeOnce sync.Once
	closeErr  error
}

var _ ports.Device = (*sshDevice)(nil)

func (d *sshDevice) Serial() string { return d.serial }

func (d *sshDevice) Shell(ctx context.Context, cmd string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := d.exec.Execute(ctx, d.client, cmd)
	if err != nil {
		d.log.Debugw("device_shell_failed", "serial", d.serial, "cmd", cmd, "error", err)
	}
	return out, err
}

func (d *sshDevice) sftpClient() (*sftp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sftp != nil {
		return d.sftp, nil
	}
	c, err := sftp.NewClient(d.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	d.sftp = c
	return c, nil
}

// PullFile copies remotePath to localPath. The local file grows while the
// copy runs, which is what transfer progress observes.
func (d *sshDevice) PullFile(ctx context.Context, remotePath, localPath string) error {
	c, err := d.sftpClient()
	if err != nil {
		return err
	}

	src, err := c.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", remotePath, err)
	}
	d.log.Infow("device_pull_ok", "serial", d.serial, "remote", remotePath, "local", localPath, "bytes", written)
	return nil
}

// StreamArchive returns a gzip tarball of dir/entry, rooted at entry.
func (d *sshDevice) StreamArchive(ctx context.Context, dir, entry string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("tar czf - -C %s %s", quote(dir), quote(entry))
	out, errOut, err := runBytes(ctx, d.client, cmd)
	if err != nil && len(out) == 0 {
		msg := strings.TrimSpace(string(errOut))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrSSHCommandFailed, msg)
	}
	if err != nil {
		// tar exits non-zero when files change while read; keep what it sent.
		d.log.Warnw("device_archive_partial", "serial", d.serial, "dir", dir, "entry", entry, "error", err)
	}
	return out, nil
}

func (d *sshDevice) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		if d.sftp != nil {
			d.sftp.Close()
			d.sftp = nil
		}
		d.mu.Unlock()
		d.closeErr = d.client.Close()
		d.log.Debugw("device_session_closed", "serial", d.serial)
	})
	return d.closeErr
}

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

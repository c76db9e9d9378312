package fsobserver

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/devault/backend/internal/core/ports"
	"github.com/shirou/gopsutil/v3/disk"
)

const blockSize = 1024

// Observer reads the local data directory for task runners.
type Observer struct{}

var _ ports.FileObserver = Observer{}

func New() Observer { return Observer{} }

func (Observer) StatSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// DiskUsage sums the sizes of every regular file under path, each rounded
// up to a whole KiB so the result lines up with `du -sk` on the device.
func (Observer) DiskUsage(path string) int64 {
	var total int64
	filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += (info.Size() + blockSize - 1) / blockSize * blockSize
		return nil
	})
	return total
}

func (Observer) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (Observer) MakeDirs(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (Observer) RemoveRecursive(path string) error {
	return os.RemoveAll(path)
}

// FreeSpace reports free bytes on the filesystem holding path. Paths that
// do not exist yet are resolved to their nearest existing parent.
func (Observer) FreeSpace(path string) (uint64, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

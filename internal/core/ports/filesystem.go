package ports

// FileObserver is the local filesystem as seen by task runners. Size
// lookups never fail: a missing or unreadable path reports 0.
type FileObserver interface {
	StatSize(path string) int64
	DiskUsage(path string) int64
	Exists(path string) bool
	MakeDirs(path string) error
	RemoveRecursive(path string) error
	FreeSpace(path string) (uint64, error)
}

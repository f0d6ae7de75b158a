package downloadable

import (
	"github.com/gofrs/flock"
)

// LockPath returns the sibling lock file guarding path. The lock file
// coordinates readers of a local file with the atomic-replace step of a
// download, so a reader never holds an open handle across a replacement it
// did not expect.
func LockPath(path string) string {
	return path + ".lock"
}

// WithReadLock runs fn while holding a shared lock on the sibling lock file
// of path. The lock is released unconditionally afterward.
func WithReadLock(path string, fn func() error) error {
	fl := flock.New(LockPath(path))
	if err := fl.RLock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// withWriteLock runs fn while holding an exclusive lock on the sibling lock
// file of path.
func withWriteLock(path string, fn func() error) error {
	fl := flock.New(LockPath(path))
	if err := fl.Lock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

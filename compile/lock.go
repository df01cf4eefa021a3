package compile

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/codykingham/context-fabric/cferr"
)

// acquireCompileLock takes an advisory, non-blocking lock on
// <cacheDir>.lock for the duration of one compile, exactly the window
// spec.md §7 defines for ConcurrentWrite: "two processes attempt to
// compile into the same cache directory." A second compiler that
// cannot acquire the lock returns ErrConcurrentWrite immediately rather
// than racing the rename.
func acquireCompileLock(cacheDir string) (*flock.Flock, error) {
	fl := flock.New(cacheDir + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("compile: lock %s: %w", cacheDir+".lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("compile: %s is already being compiled: %w", cacheDir, cferr.ErrConcurrentWrite)
	}
	return fl, nil
}

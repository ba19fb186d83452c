//go:build !unix

package vector

import (
	"errors"
	"fmt"
	"os"
)

// lockFile creates path exclusively. A lock left by a crashed process must
// be removed by hand.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists; remove it if no other process is running", ErrIndexLocked, path)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return f, nil
}

func unlockFile(f *os.File) error {
	err := f.Close()
	if rerr := os.Remove(f.Name()); err == nil {
		err = rerr
	}
	return err
}

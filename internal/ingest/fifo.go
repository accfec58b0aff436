package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// FIFO is the daemon's end of the named pipe. It is opened read-write so
// that it never reports end of file when the last writer goes away.
type FIFO struct {
	path string
	fd   int
}

// SetupFIFO creates the named pipe at path if needed and opens it. A
// regular file in the way is removed first.
func SetupFIFO(path string) (*FIFO, error) {
	info, err := os.Lstat(path)
	switch {
	case err == nil && info.Mode()&fs.ModeNamedPipe == 0:
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale %s: %w", path, err)
		}
		fallthrough
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("mkfifo %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FIFO{path: path, fd: fd}, nil
}

// Path returns the pipe's location.
func (f *FIFO) Path() string {
	return f.path
}

// Fd returns the open descriptor.
func (f *FIFO) Fd() int {
	return f.fd
}

// Close closes the descriptor. The pipe stays on disk.
func (f *FIFO) Close() error {
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}

// Remove closes the pipe and deletes it.
func (f *FIFO) Remove() error {
	cerr := f.Close()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return cerr
}

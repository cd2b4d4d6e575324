package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAL is the node's append-only event journal. Each entry is one JSON line.
type WAL interface {
	Append(line string)
}

type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

// FileWAL appends journal lines to a file. Append never fails the caller;
// the first write error is kept and reported by Err and Close.
type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	err error
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if _, err := fmt.Fprintln(w.f, line); err != nil {
		w.err = fmt.Errorf("journal write: %w", err)
	}
}

func (w *FileWAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close flushes the file to disk and closes it.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil && w.err == nil {
		w.err = err
	}
	if err := w.f.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

// ReadWAL calls fn for every non-empty journal line in r, stopping at the
// first error fn returns.
func ReadWAL(r io.Reader, fn func(line string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

var (
	_ WAL = (*NopWAL)(nil)
	_ WAL = (*FileWAL)(nil)
)

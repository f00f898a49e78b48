// SPDX-License-Identifier: MIT

package ewxlog

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultMaxLogSize is the rotation threshold for the run log.
const DefaultMaxLogSize = 10 * 1024 * 1024 // 10 MiB

// DefaultMaxLogFiles is how many rotated generations are kept.
const DefaultMaxLogFiles = 5

// RotatingWriter is an io.WriteCloser that rotates the underlying file
// once it crosses maxSize, keeping up to maxFiles gzip-compressed
// generations.
type RotatingWriter struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	maxFiles    int
	compress    bool
	file        *os.File
	currentSize int64
}

// RotatingWriterOption configures a RotatingWriter.
type RotatingWriterOption func(*RotatingWriter)

// WithMaxSize overrides DefaultMaxLogSize.
func WithMaxSize(n int64) RotatingWriterOption {
	return func(w *RotatingWriter) { w.maxSize = n }
}

// WithMaxFiles overrides DefaultMaxLogFiles.
func WithMaxFiles(n int) RotatingWriterOption {
	return func(w *RotatingWriter) { w.maxFiles = n }
}

// WithCompression toggles gzip compression of rotated generations.
func WithCompression(enabled bool) RotatingWriterOption {
	return func(w *RotatingWriter) { w.compress = enabled }
}

// NewRotatingWriter opens (creating if necessary) path for appending.
func NewRotatingWriter(path string, opts ...RotatingWriterOption) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:     path,
		maxSize:  DefaultMaxLogSize,
		maxFiles: DefaultMaxLogFiles,
		compress: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Write implements io.Writer. A rotation failure is logged to stderr
// but does not block the write: losing rotation is better than losing
// the log line itself.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "ewxlog: rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close flushes and closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotateLocked() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	for n := w.maxFiles - 1; n >= 1; n-- {
		src := w.rotatedPath(n)
		dst := w.rotatedPath(n + 1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
			continue
		}
		if _, err := os.Stat(src + ".gz"); err == nil {
			_ = os.Rename(src+".gz", dst+".gz")
		}
	}

	if err := os.Rename(w.path, w.rotatedPath(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	if w.compress {
		go compressFile(w.rotatedPath(1))
	}

	w.cleanupLocked()

	return w.openFile()
}

func (w *RotatingWriter) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *RotatingWriter) cleanupLocked() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len(base)+1 && name[:len(base)+1] == base+"." {
			rotated = append(rotated, name)
		}
	}
	sort.Strings(rotated)
	// Keep the lowest maxFiles generations (".1" is newest); drop the rest.
	keep := w.maxFiles
	if len(rotated) <= keep {
		return
	}
	for _, name := range rotated[keep:] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}

func compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	out, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer out.Close()
	gw := gzip.NewWriter(out)
	if _, err := gw.Write(data); err != nil {
		_ = gw.Close()
		return
	}
	if err := gw.Close(); err != nil {
		return
	}
	_ = os.Remove(path)
}

var _ io.WriteCloser = (*RotatingWriter)(nil)

package docstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stake-plus/govtally/src/logging"
	"go.uber.org/zap"
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("docstore: document closed")

// Options configures a Document.
type Options struct {
	// BackupDir defaults to <dir>/backup/<name> where name is the file name without extension.
	BackupDir  string
	MaxBackups int
	Logger     *zap.Logger
}

// Document guards one JSON file. Every mutation is a load, modify, save cycle
// under the document lock, so the file always reflects the last completed call.
type Document[T any] struct {
	path       string
	backupDir  string
	maxBackups int
	empty      func() T
	log        *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewDocument binds path to a document whose zero state is produced by empty.
func NewDocument[T any](path string, empty func() T, opts Options) *Document[T] {
	if opts.MaxBackups < 1 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.BackupDir == "" {
		base := filepath.Base(path)
		opts.BackupDir = filepath.Join(filepath.Dir(path), "backup", strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("docstore")
	}
	return &Document[T]{
		path:       path,
		backupDir:  opts.BackupDir,
		maxBackups: opts.MaxBackups,
		empty:      empty,
		log:        opts.Logger.With(zap.String("document", filepath.Base(path))),
	}
}

// Path returns the live file location.
func (d *Document[T]) Path() string { return d.path }

// BackupDir returns the directory holding rotated backups.
func (d *Document[T]) BackupDir() string { return d.backupDir }

// Load reads the current document.
func (d *Document[T]) Load() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, _, err := d.read()
	return doc, err
}

// View reads the document under the lock and hands it to fn.
func (d *Document[T]) View(fn func(T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, _, err := d.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Save replaces the document with v unconditionally.
func (d *Document[T]) Save(v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	data, err := encode(v)
	if err != nil {
		return &StorageError{Op: "encode", Path: d.path, Err: err}
	}
	return write(d.path, d.backupDir, d.maxBackups, data, d.log)
}

// Update loads the document, applies fn and saves the result. If fn returns an
// error nothing is written. A result identical to the file on disk is not rewritten.
func (d *Document[T]) Update(fn func(doc *T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	doc, raw, err := d.read()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	_, err = d.commit(doc, raw)
	return err
}

// Close waits for in-flight mutations and rejects later ones.
func (d *Document[T]) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Document[T]) read() (T, []byte, error) {
	doc := d.empty()
	raw, err := loadBytes(d.path, &doc)
	if err != nil {
		return d.empty(), nil, err
	}
	return doc, raw, nil
}

// commit writes doc unless it serializes to exactly raw. It reports whether a write happened.
func (d *Document[T]) commit(doc T, raw []byte) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, &StorageError{Op: "encode", Path: d.path, Err: err}
	}
	if raw != nil && bytes.Equal(raw, data) {
		d.log.Debug("document unchanged, skipping write")
		return false, nil
	}
	if err := write(d.path, d.backupDir, d.maxBackups, data, d.log); err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePair mutates two documents as one unit. Locks are taken in argument
// order and the documents are saved in the same order, so callers that always
// pass the same pair in the same order cannot deadlock. If the first save
// fails the second document is left untouched.
func UpdatePair[A, B any](first *Document[A], second *Document[B], fn func(a *A, b *B) error) error {
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	if first.closed || second.closed {
		return ErrClosed
	}

	a, rawA, err := first.read()
	if err != nil {
		return err
	}
	b, rawB, err := second.read()
	if err != nil {
		return err
	}
	if err := fn(&a, &b); err != nil {
		return err
	}
	if _, err := first.commit(a, rawA); err != nil {
		return err
	}
	_, err = second.commit(b, rawB)
	return err
}

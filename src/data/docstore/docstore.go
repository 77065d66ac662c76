// Package docstore persists JSON documents with atomic replacement and rotating backups.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stake-plus/govtally/src/logging"
	"go.uber.org/zap"
)

const (
	// DefaultMaxBackups is the retention used when none is configured.
	DefaultMaxBackups = 5

	backupSuffix    = ".bak"
	timestampLayout = "20060102_150405.000000000"
)

// ErrStorage matches every *StorageError through errors.Is.
var ErrStorage = errors.New("storage error")

// StorageError reports an I/O or malformed-document failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("docstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Load decodes the document at path into v. A missing file leaves v untouched.
func Load(path string, v any) error {
	_, err := loadBytes(path, v)
	return err
}

func loadBytes(path string, v any) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, &StorageError{Op: "parse", Path: path, Err: err}
	}
	return data, nil
}

// Save backs up the current file into backupDir, then atomically replaces it with v.
func Save(path, backupDir string, maxBackups int, v any) error {
	data, err := encode(v)
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}
	return write(path, backupDir, maxBackups, data, logging.Named("docstore"))
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func write(path, backupDir string, maxBackups int, data []byte, log *zap.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	if backupDir != "" {
		if err := backupFile(path, backupDir); err != nil {
			log.Warn("backup failed", zap.String("path", path), zap.Error(err))
		} else {
			RotateBackups(backupDir, maxBackups)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &StorageError{Op: "create temp", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &StorageError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// backupFile copies path into backupDir as <base>_<timestamp>.bak. Missing sources are skipped.
func backupFile(path, backupDir string) error {
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s", filepath.Base(path), time.Now().UTC().Format(timestampLayout), backupSuffix)
	dst, err := os.OpenFile(filepath.Join(backupDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy backup: %w", err)
	}
	return dst.Close()
}

// RotateBackups deletes the oldest .bak files in backupDir beyond maxBackups.
// Errors are logged and never returned.
func RotateBackups(backupDir string, maxBackups int) {
	log := logging.Named("docstore")
	if maxBackups < 1 {
		maxBackups = DefaultMaxBackups
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		log.Warn("list backups failed", zap.String("dir", backupDir), zap.Error(err))
		return
	}

	type backup struct {
		path    string
		name    string
		modTime time.Time
	}
	var backups []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn("stat backup failed", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(backupDir, entry.Name()),
			name:    entry.Name(),
			modTime: info.ModTime(),
		})
	}

	// Newest first; the timestamp in the name breaks mtime ties on coarse filesystems.
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].modTime.After(backups[j].modTime)
		}
		return backups[i].name > backups[j].name
	})

	if len(backups) <= maxBackups {
		return
	}
	for _, b := range backups[maxBackups:] {
		if err := os.Remove(b.path); err != nil {
			log.Warn("remove backup failed", zap.String("path", b.path), zap.Error(err))
			continue
		}
		log.Debug("removed old backup", zap.String("path", b.path))
	}
}

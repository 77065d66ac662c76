package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/stake-plus/govtally/src/shared/gov"
)

// FileSource serves the active set from a JSON file of the form
// {"<id>": {"title": ...}, ...}. The file is re-read on every call, and a
// missing file means nothing is active.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ActiveProposals returns the whole file; tracked is not needed since nothing is windowed.
func (f *FileSource) ActiveProposals(ctx context.Context, _ []uint32) (map[uint32]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[uint32]Metadata{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var raw map[string]Metadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	out := make(map[uint32]Metadata, len(raw))
	for key, meta := range raw {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s: proposal id %q: %w", f.path, key, err)
		}
		out[uint32(id)] = meta
	}
	return out, nil
}

func (f *FileSource) ProposalDetails(ctx context.Context, id uint32) (Metadata, error) {
	active, err := f.ActiveProposals(ctx, nil)
	if err != nil {
		return Metadata{}, err
	}
	meta, ok := active[id]
	if !ok {
		return Metadata{}, fmt.Errorf("proposal %d: %w", id, gov.ErrNotFound)
	}
	return meta, nil
}

func (f *FileSource) Ping(ctx context.Context) error {
	if _, err := os.Stat(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return ctx.Err()
}

func (f *FileSource) Close() error { return nil }

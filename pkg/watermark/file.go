package watermark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// FileStore keeps watermarks in an ini file under the "Last Updated" section.
// Other sections in the file are preserved on save.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the ini file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the watermark section.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	file, err := f.open()
	if err != nil {
		return nil, err
	}

	sec, err := file.GetSection(Section)
	if err != nil {
		// An existing file without the section is treated as empty so the
		// per-type lookup reports which key is missing.
		return NewState(nil), nil
	}
	return NewState(sec.KeysHash()), nil
}

// Save writes state to a temporary file in the same directory and renames it
// over the original.
func (f *FileStore) Save(_ context.Context, state *State) error {
	file, err := f.open()
	if errors.Is(err, ErrStoreNotFound) {
		file = ini.Empty()
	} else if err != nil {
		return err
	}

	sec := file.Section(Section)
	dates := state.Dates()
	for _, key := range state.Keys() {
		sec.Key(key).SetValue(dates[key])
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".watermark-*")
	if err != nil {
		return fmt.Errorf("create temp watermark file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod watermark file: %w", err)
	}
	if _, err := file.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write watermark file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close watermark file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace watermark file: %w", err)
	}
	return nil
}

func (f *FileStore) open() (*ini.File, error) {
	if _, err := os.Stat(f.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, f.path)
		}
		return nil, fmt.Errorf("stat watermark file: %w", err)
	}
	file, err := ini.Load(f.path)
	if err != nil {
		return nil, fmt.Errorf("read watermark file %s: %w", f.path, err)
	}
	return file, nil
}

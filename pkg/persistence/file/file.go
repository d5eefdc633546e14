// Package file provides file-based persistence: the in-memory store backed by
// a JSON snapshot that is rewritten on every commit.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/ticketflow/pkg/persistence/memory"
)

const stateFile = "ticketflow.json"

// Persistence implements persistence.Persistence using the file system.
type Persistence struct {
	*memory.Persistence

	root string
}

// NewPersistence loads the snapshot under root, creating the directory when
// it does not exist yet.
func NewPersistence(root string, opts ...memory.Option) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fp := &Persistence{root: cleanRoot}

	state, err := fp.load()
	if err != nil {
		return nil, err
	}

	opts = append(opts, memory.WithState(state), memory.WithCommitHook(fp.write))
	fp.Persistence = memory.NewPersistence(opts...)

	return fp, nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) path() string {
	return filepath.Join(fp.root, stateFile)
}

func (fp *Persistence) load() (*memory.State, error) {
	data, err := os.ReadFile(fp.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	state := memory.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", fp.path(), err)
	}

	return state, nil
}

// write replaces the snapshot through a rename so readers never see a
// partially written file.
func (fp *Persistence) write(next *memory.State) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(fp.root, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), fp.path()); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

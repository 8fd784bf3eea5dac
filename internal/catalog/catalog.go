// Package catalog reads investment plans from a JSON file.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ligun0805/stakeflow/internal/allocation"
)

var ErrPlanNotFound = errors.New("plan not found")

// Source returns the current configuration of a plan.
type Source interface {
	Plan(ctx context.Context, id uint64) (allocation.Plan, error)
}

type document struct {
	Plans []allocation.Plan `json:"plans"`
}

// File is a Source backed by a JSON document of the form {"plans": [...]}.
// The file is read on every lookup so edits apply to the next deposit.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) load() ([]allocation.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse plans %s: %w", f.path, err)
	}
	return doc.Plans, nil
}

func (f *File) Plan(ctx context.Context, id uint64) (allocation.Plan, error) {
	if err := ctx.Err(); err != nil {
		return allocation.Plan{}, err
	}
	plans, err := f.load()
	if err != nil {
		return allocation.Plan{}, err
	}
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return allocation.Plan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
}

// Plans returns every plan in the file.
func (f *File) Plans() ([]allocation.Plan, error) {
	return f.load()
}

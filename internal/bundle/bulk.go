package bundle

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// How many bundles move at once during bulk operations.
const bulkParallelism = 4

// Operation kinds tracked by the bundler.
const (
	OpBulkExport = "bulk_export"
	OpBulkImport = "bulk_import"
)

// Item is one workspace or file inside a bulk operation.
type Item struct {
	// Target is the workspace id on export, the bundle path on import.
	Target string `json:"target"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Path is the produced bundle on export, the new workspace id on import.
	Path string `json:"path,omitempty"`
}

// Operation is a bulk export or import with per-item outcomes.
type Operation struct {
	ID         string     `json:"operation_id"`
	Kind       string     `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Done       bool       `json:"done"`
	Items      []Item     `json:"items"`
}

// BulkExport writes one bundle per workspace id into outDir. Items fail
// independently; the operation itself only errors on an empty request.
func (b *Bundler) BulkExport(ctx context.Context, workspaceIDs []string, outDir string) (*Operation, error) {
	if len(workspaceIDs) == 0 {
		return nil, faults.New(faults.Validation, "bulk export needs at least one workspace id")
	}
	op := b.newOperation(OpBulkExport, workspaceIDs)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallelism)
	for i, id := range workspaceIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := b.Export(id, outDir)
			if err != nil {
				b.setItem(op.ID, i, Item{Target: id, Status: StatusFailed, Detail: err.Error()})
				return nil
			}
			b.setItem(op.ID, i, Item{Target: id, Status: StatusSuccess, Path: res.Path})
			return nil
		})
	}
	_ = g.Wait()

	b.finishOperation(op.ID)
	logging.Bundle("bulk export %s: %d workspaces", op.ID, len(workspaceIDs))
	done, _ := b.GetOperation(op.ID)
	return done, nil
}

// BulkImport imports one bundle per path, applying the same conflict
// resolution to each.
func (b *Bundler) BulkImport(ctx context.Context, paths []string, resolution string) (*Operation, error) {
	if len(paths) == 0 {
		return nil, faults.New(faults.Validation, "bulk import needs at least one bundle path")
	}
	op := b.newOperation(OpBulkImport, paths)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallelism)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := b.Import(path, resolution, "")
			if err != nil {
				b.setItem(op.ID, i, Item{Target: path, Status: StatusFailed, Detail: err.Error()})
				return nil
			}
			item := Item{Target: path, Status: res.Status, Path: res.WorkspaceID}
			if len(res.Warnings) > 0 {
				item.Detail = res.Warnings[0]
			}
			b.setItem(op.ID, i, item)
			return nil
		})
	}
	_ = g.Wait()

	b.finishOperation(op.ID)
	logging.Bundle("bulk import %s: %d bundles", op.ID, len(paths))
	done, _ := b.GetOperation(op.ID)
	return done, nil
}

// GetOperation returns a copy of a tracked bulk operation.
func (b *Bundler) GetOperation(id string) (*Operation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.ops[id]
	if !ok {
		return nil, false
	}
	cp := *op
	cp.Items = append([]Item(nil), op.Items...)
	return &cp, true
}

// ListOperations returns copies of all tracked operations, newest first.
func (b *Bundler) ListOperations() []*Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Operation, 0, len(b.ops))
	for _, op := range b.ops {
		cp := *op
		cp.Items = append([]Item(nil), op.Items...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (b *Bundler) newOperation(kind string, targets []string) *Operation {
	op := &Operation{
		ID:        ulid.Make().String(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Items:     make([]Item, len(targets)),
	}
	for i, t := range targets {
		op.Items[i] = Item{Target: t, Status: "pending"}
	}
	b.mu.Lock()
	b.ops[op.ID] = op
	b.mu.Unlock()
	return op
}

func (b *Bundler) setItem(opID string, idx int, item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if op, ok := b.ops[opID]; ok && idx < len(op.Items) {
		op.Items[idx] = item
	}
}

func (b *Bundler) finishOperation(opID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if op, ok := b.ops[opID]; ok {
		now := time.Now().UTC()
		op.Done = true
		op.FinishedAt = &now
	}
}

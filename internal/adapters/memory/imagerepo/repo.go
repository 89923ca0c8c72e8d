package imagerepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

// Repo is an in-memory implementation of imagerepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	nextID domain.ImageID
	byID   map[domain.ImageID]imagerepo.Record
}

func NewRepo() *Repo {
	return &Repo{
		nextID: 1,
		byID:   make(map[domain.ImageID]imagerepo.Record),
	}
}

func (r *Repo) ListByVIN(ctx context.Context, q imagerepo.Query) (imagerepo.Page, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]imagerepo.Record, 0)
	for _, rec := range r.byID {
		if rec.VIN != q.VIN || !q.Type.Matches(rec.Type) {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	sortRecords(matched)

	page := imagerepo.Page{Total: len(matched)}
	if q.Limit <= 0 {
		page.Records = matched
		return page, nil
	}
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		page.Records = []imagerepo.Record{}
		return page, nil
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Records = matched[start:end]
	return page, nil
}

func (r *Repo) Create(ctx context.Context, rec imagerepo.Record) (imagerepo.Record, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == 0 {
		rec.ID = r.nextID
	}
	if _, ok := r.byID[rec.ID]; ok {
		return imagerepo.Record{}, imagerepo.ErrAlreadyExists
	}
	if rec.ID >= r.nextID {
		r.nextID = rec.ID + 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.byID[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.ImageID) (imagerepo.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return imagerepo.Record{}, imagerepo.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *Repo) Delete(ctx context.Context, id domain.ImageID) (imagerepo.Record, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return imagerepo.Record{}, imagerepo.ErrNotFound
	}
	delete(r.byID, id)
	return rec, nil
}

func (r *Repo) SetPriority(ctx context.Context, id domain.ImageID, priority *bool) (imagerepo.Record, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return imagerepo.Record{}, imagerepo.ErrNotFound
	}
	rec.Priority = domain.CloneBoolPtr(priority)
	r.byID[id] = rec
	return cloneRecord(rec), nil
}

func cloneRecord(rec imagerepo.Record) imagerepo.Record {
	out := rec
	out.Priority = domain.CloneBoolPtr(rec.Priority)
	return out
}

func sortRecords(rs []imagerepo.Record) {
	sort.Slice(rs, func(i, j int) bool {
		return domain.ImageLess(isMain(rs[i]), rs[i].ID, isMain(rs[j]), rs[j].ID)
	})
}

func isMain(rec imagerepo.Record) bool { return rec.Priority != nil && *rec.Priority }

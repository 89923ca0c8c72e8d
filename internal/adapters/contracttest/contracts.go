package contracttest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	idempotencyport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
	imagerepoport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

type CleanupFunc = func()

type ImageRepoFactory func(t *testing.T) (imagerepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

// uniqueVIN keeps suites independent when backends share a database.
func uniqueVIN(prefix string) domain.VIN {
	return domain.VIN(prefix + "-" + strings.ToUpper(uuid.NewString()[:8]))
}

func boolPtr(b bool) *bool { return &b }

func RunImageRepo(t *testing.T, newRepo ImageRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	vin := uniqueVIN("CONTRACT")
	other := uniqueVIN("OTHER")

	seed := []imagerepoport.Record{
		{VIN: vin, StorageKey: "a.jpg", Type: domain.ImageTypeAuction, Priority: boolPtr(false), CreatedAt: now},
		{VIN: vin, StorageKey: "b.jpg", Type: domain.ImageTypeAuction, Priority: boolPtr(true), CreatedAt: now},
		{VIN: vin, StorageKey: "c.jpg", Type: domain.ImageTypeWarehouse, CreatedAt: now},
		{VIN: vin, StorageKey: "d.jpg", Type: domain.ImageTypeDelivered, Priority: boolPtr(false), CreatedAt: now},
		{VIN: other, StorageKey: "x.jpg", Type: domain.ImageTypeAuction, CreatedAt: now},
	}
	created := make([]imagerepoport.Record, 0, len(seed))
	for _, r := range seed {
		got, err := repo.Create(ctx, r)
		if err != nil {
			t.Fatalf("Create(%s): %v", r.StorageKey, err)
		}
		if got.ID == 0 {
			t.Fatalf("Create(%s) assigned no ID", r.StorageKey)
		}
		created = append(created, got)
	}
	main := created[1]

	// Unpaginated listing: total matches, priority first, then descending ID.
	page, err := repo.ListByVIN(ctx, imagerepoport.Query{VIN: vin})
	if err != nil {
		t.Fatalf("ListByVIN: %v", err)
	}
	if page.Total != 4 || len(page.Records) != 4 {
		t.Fatalf("ListByVIN total=%d len=%d, want 4/4", page.Total, len(page.Records))
	}
	if page.Records[0].ID != main.ID {
		t.Fatalf("first record=%d, want main image %d", page.Records[0].ID, main.ID)
	}
	for i := 2; i < len(page.Records); i++ {
		if page.Records[i-1].ID <= page.Records[i].ID {
			t.Fatalf("records not in descending ID order after main: %v", recordIDs(page.Records))
		}
	}

	// Type filter.
	page, err = repo.ListByVIN(ctx, imagerepoport.Query{VIN: vin, Type: domain.OnlyType(domain.ImageTypeAuction)})
	if err != nil {
		t.Fatalf("ListByVIN(AUCTION): %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("ListByVIN(AUCTION) total=%d, want 2", page.Total)
	}

	// Pagination keeps the total independent of the page.
	page, err = repo.ListByVIN(ctx, imagerepoport.Query{VIN: vin, Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("ListByVIN(page 2): %v", err)
	}
	if page.Total != 4 || len(page.Records) != 1 {
		t.Fatalf("ListByVIN(page 2) total=%d len=%d, want 4/1", page.Total, len(page.Records))
	}
	page, err = repo.ListByVIN(ctx, imagerepoport.Query{VIN: vin, Limit: 3, Offset: 9})
	if err != nil {
		t.Fatalf("ListByVIN(past end): %v", err)
	}
	if page.Total != 4 || len(page.Records) != 0 {
		t.Fatalf("ListByVIN(past end) total=%d len=%d, want 4/0", page.Total, len(page.Records))
	}

	// Priority updates, including back to null.
	got, err := repo.SetPriority(ctx, created[0].ID, boolPtr(true))
	if err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if got.Priority == nil || !*got.Priority {
		t.Fatalf("SetPriority returned %+v", got)
	}
	got, err = repo.SetPriority(ctx, created[0].ID, nil)
	if err != nil {
		t.Fatalf("SetPriority(nil): %v", err)
	}
	if got.Priority != nil {
		t.Fatalf("SetPriority(nil) priority=%v, want nil", *got.Priority)
	}

	// Get / Delete / not found.
	if _, err := repo.GetByID(ctx, created[2].ID); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	deleted, err := repo.Delete(ctx, created[2].ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.StorageKey != "c.jpg" || deleted.VIN != vin {
		t.Fatalf("Delete returned %+v", deleted)
	}
	if _, err := repo.GetByID(ctx, created[2].ID); !errors.Is(err, imagerepoport.ErrNotFound) {
		t.Fatalf("GetByID after delete err=%v, want ErrNotFound", err)
	}
	if _, err := repo.Delete(ctx, created[2].ID); !errors.Is(err, imagerepoport.ErrNotFound) {
		t.Fatalf("Delete twice err=%v, want ErrNotFound", err)
	}
	if _, err := repo.SetPriority(ctx, created[2].ID, boolPtr(true)); !errors.Is(err, imagerepoport.ErrNotFound) {
		t.Fatalf("SetPriority(missing) err=%v, want ErrNotFound", err)
	}

	// Other vehicles are untouched.
	page, err = repo.ListByVIN(ctx, imagerepoport.Query{VIN: other})
	if err != nil {
		t.Fatalf("ListByVIN(other): %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("ListByVIN(other) total=%d, want 1", page.Total)
	}
}

func recordIDs(rs []imagerepoport.Record) []domain.ImageID {
	out := make([]domain.ImageID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

// RunIdempotencyStore expects the store to retain records for at least an hour
// relative to the CreatedAt values used here.
func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      idempotencyport.Key("k-" + uuid.NewString()),
		Method:   "POST",
		Route:    "/api/images",
		BodyHash: "body-1",
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}

	rec := idempotencyport.Record{
		StatusCode:  201,
		ContentType: "application/json",
		Body:        []byte(`{"id":1}`),
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != `{"id":1}` || got.ContentType != "application/json" || got.StatusCode != 201 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Every fingerprint field participates in the lookup.
	for name, other := range map[string]idempotencyport.Fingerprint{
		"key":    {Key: fp.Key + "-x", Method: fp.Method, Route: fp.Route, BodyHash: fp.BodyHash},
		"method": {Key: fp.Key, Method: "PUT", Route: fp.Route, BodyHash: fp.BodyHash},
		"route":  {Key: fp.Key, Method: fp.Method, Route: "/api/images/{id}", BodyHash: fp.BodyHash},
		"body":   {Key: fp.Key, Method: fp.Method, Route: fp.Route, BodyHash: "body-2"},
	} {
		if _, ok, err := store.Get(ctx, other); err != nil || ok {
			t.Fatalf("Get with different %s: ok=%v err=%v", name, ok, err)
		}
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte(`{"id":2}`)
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != `{"id":2}` {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}

	// Records past retention are not replayed.
	stale := idempotencyport.Fingerprint{Key: fp.Key + "-stale", Method: fp.Method, Route: fp.Route}
	old := rec
	old.CreatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := store.Put(ctx, stale, old); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	if _, ok, err := store.Get(ctx, stale); err != nil || ok {
		t.Fatalf("Get stale: ok=%v err=%v", ok, err)
	}
}

package imagerepo

import (
	"context"
	"time"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
)

// Record is the persistence shape of an image. The public URL is not stored;
// it is resolved by the application layer.
type Record struct {
	ID         domain.ImageID
	VIN        domain.VIN
	StorageKey string
	Type       domain.ImageType
	// Priority is nullable; true marks the vehicle's main image.
	Priority *bool

	CreatedAt time.Time
}

// Query selects a page of images for one vehicle.
type Query struct {
	VIN  domain.VIN
	Type domain.TypeFilter
	// Limit == 0 disables pagination and returns every matching record.
	Limit  int
	Offset int
}

// Page is one page of results plus the total number of matching records.
type Page struct {
	Records []Record
	Total   int
}

// Repository provides access to persisted image metadata.
//
// Result ordering expectations:
//   - ListByVIN returns priority-flagged records first, then descending ID (see domain.SortImages),
//     so that repeated fetches of the same query always return the same order.
type Repository interface {
	ListByVIN(ctx context.Context, q Query) (Page, error)

	// Create assigns the next ID when r.ID is zero.
	Create(ctx context.Context, r Record) (Record, error)
	GetByID(ctx context.Context, id domain.ImageID) (Record, error)
	Delete(ctx context.Context, id domain.ImageID) (Record, error)
	SetPriority(ctx context.Context, id domain.ImageID, priority *bool) (Record, error)
}

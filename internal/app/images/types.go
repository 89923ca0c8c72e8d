package images

import "github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"

type ListImagesInput struct {
	VIN  string
	Type domain.TypeFilter
	Page int
	// PageSize nil means the cache default.
	PageSize *int
}

type AddImageInput struct {
	VIN        string
	StorageKey string
	Type       string
	// Priority nil leaves the image unflagged.
	Priority *bool
}

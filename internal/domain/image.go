package domain

import (
	"sort"
	"strings"
)

// ImageType is the stage of the vehicle's journey a photo was taken at.
type ImageType string

const (
	ImageTypeAuction   ImageType = "AUCTION"
	ImageTypeWarehouse ImageType = "WAREHOUSE"
	ImageTypeDelivered ImageType = "DELIVERED"
	ImageTypePickUp    ImageType = "PICK_UP"
)

// ImageTypes lists every valid ImageType in display order.
var ImageTypes = []ImageType{ImageTypeAuction, ImageTypeWarehouse, ImageTypeDelivered, ImageTypePickUp}

// ParseImageType matches s case-insensitively against the known image types.
func ParseImageType(s string) (ImageType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, t := range ImageTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// TypeFilter restricts an image listing to one type, or to none.
// The zero value matches every type.
type TypeFilter struct {
	t   ImageType
	set bool
}

func AnyType() TypeFilter              { return TypeFilter{} }
func OnlyType(t ImageType) TypeFilter { return TypeFilter{t: t, set: true} }

// TypeFilterFromString builds a filter from raw request input.
// Empty and unknown values mean "no filter".
func TypeFilterFromString(s string) TypeFilter {
	t, ok := ParseImageType(s)
	if !ok {
		return AnyType()
	}
	return OnlyType(t)
}

// Get returns the filtered type and whether a filter is set.
func (f TypeFilter) Get() (ImageType, bool) { return f.t, f.set }

// Matches reports whether an image of type t passes the filter.
func (f TypeFilter) Matches(t ImageType) bool { return !f.set || f.t == t }

func (f TypeFilter) String() string {
	if !f.set {
		return ""
	}
	return string(f.t)
}

// Image is an image record with its public URL resolved.
type Image struct {
	ID         ImageID
	StorageKey string
	Type       ImageType
	VIN        VIN
	// Priority is nullable; true marks the vehicle's main image.
	Priority *bool
	URL      string
}

// IsMain reports whether the image is priority-flagged.
func (i Image) IsMain() bool { return i.Priority != nil && *i.Priority }

// SortImages orders images priority-flagged first, then by descending ID.
func SortImages(images []Image) {
	sort.SliceStable(images, func(a, b int) bool {
		return ImageLess(images[a].IsMain(), images[a].ID, images[b].IsMain(), images[b].ID)
	})
}

// ImageLess is the ordering used by SortImages, exposed for stores that sort their own row types.
func ImageLess(mainA bool, idA ImageID, mainB bool, idB ImageID) bool {
	if mainA != mainB {
		return mainA
	}
	return idA > idB
}

// ResolvePublicURL joins a storage key onto the public base URL.
// An empty base yields a root-relative path.
func ResolvePublicURL(baseURL, storageKey string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(storageKey, "/")
}

// CloneBoolPtr copies a nullable flag so callers cannot alias stored values.
func CloneBoolPtr(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CloneImages deep-copies a slice of images.
func CloneImages(in []Image) []Image {
	if in == nil {
		return nil
	}
	out := make([]Image, len(in))
	for i, img := range in {
		out[i] = img
		out[i].Priority = CloneBoolPtr(img.Priority)
	}
	return out
}

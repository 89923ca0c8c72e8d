package httpapi

import (
	"github.com/oapi-codegen/nullable"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/imagecache"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
)

// ErrorResponse is the JSON error envelope returned by every endpoint.
type ErrorResponse struct {
	Error struct {
		Code      string                            `json:"code"`
		Message   string                            `json:"message"`
		Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
		RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
	} `json:"error"`
}

type Image struct {
	Id         int64                   `json:"id"`
	StorageKey string                  `json:"storageKey"`
	Type       string                  `json:"type"`
	Vin        string                  `json:"vin"`
	Priority   nullable.Nullable[bool] `json:"priority"`
	Url        string                  `json:"url"`
}

type ImageListResponse struct {
	Images      []Image `json:"images"`
	Count       int     `json:"count"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
}

type AddImageRequest struct {
	Vin        string                  `json:"vin"`
	StorageKey string                  `json:"storageKey"`
	Type       string                  `json:"type"`
	Priority   nullable.Nullable[bool] `json:"priority,omitempty"`
}

type SetPriorityRequest struct {
	Priority nullable.Nullable[bool] `json:"priority"`
}

type CacheStatsResponse struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// ListImagesParams are the query parameters of GET /api/images.
type ListImagesParams struct {
	Vin      string
	Type     *string
	Page     *int
	PageSize *int
}

func imageFromDomain(img domain.Image) Image {
	out := Image{
		Id:         int64(img.ID),
		StorageKey: img.StorageKey,
		Type:       string(img.Type),
		Vin:        string(img.VIN),
		Url:        img.URL,
	}
	if img.Priority == nil {
		out.Priority = nullable.NewNullNullable[bool]()
	} else {
		out.Priority = nullable.NewNullableWithValue(*img.Priority)
	}
	return out
}

func imageListFromCache(l imagecache.List) ImageListResponse {
	out := ImageListResponse{
		Images:      make([]Image, 0, len(l.Images)),
		Count:       l.Count,
		TotalPages:  l.TotalPages,
		CurrentPage: l.CurrentPage,
	}
	for _, img := range l.Images {
		out.Images = append(out.Images, imageFromDomain(img))
	}
	return out
}

// boolPtrFromNullable maps an omitted or null field to nil.
func boolPtrFromNullable(n nullable.Nullable[bool]) *bool {
	if !n.IsSpecified() || n.IsNull() {
		return nil
	}
	v, err := n.Get()
	if err != nil {
		return nil
	}
	return &v
}

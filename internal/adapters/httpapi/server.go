package httpapi

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/images"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
)

// CachePolicy sets the Cache-Control header on public image list responses.
type CachePolicy struct {
	MaxAge               time.Duration
	StaleWhileRevalidate time.Duration
}

// DefaultCachePolicy is a short shared-cache lifetime with a longer
// stale-while-revalidate window.
var DefaultCachePolicy = CachePolicy{MaxAge: 10 * time.Second, StaleWhileRevalidate: 59 * time.Second}

func (p CachePolicy) header() string {
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d",
		int64(math.Ceil(p.MaxAge.Seconds())), int64(math.Ceil(p.StaleWhileRevalidate.Seconds())))
}

// Server holds the HTTP handlers.
type Server struct {
	Images *images.Service
	Cache  CachePolicy
}

func NewServer(imagesSvc *images.Service, policy CachePolicy) *Server {
	return &Server{Images: imagesSvc, Cache: policy}
}

func (s *Server) ListImages(w http.ResponseWriter, r *http.Request) {
	var params ListImagesParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "vin", q, &params.Vin); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]any{"parameter": "vin"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "type", q, &params.Type); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]any{"parameter": "type"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", q, &params.Page); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]any{"parameter": "page"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "pageSize", q, &params.PageSize); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]any{"parameter": "pageSize"})
		return
	}

	in := images.ListImagesInput{VIN: params.Vin, PageSize: params.PageSize}
	if params.Type != nil {
		in.Type = domain.TypeFilterFromString(*params.Type)
	}
	if params.Page != nil {
		in.Page = *params.Page
	}

	l, err := s.Images.ListImages(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", s.Cache.header())
	writeJSON(w, http.StatusOK, imageListFromCache(l))
}

func (s *Server) AddImage(w http.ResponseWriter, r *http.Request) {
	var body AddImageRequest
	if err := decodeBody(r, &body); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", map[string]any{"reason": err.Error()})
		return
	}
	img, err := s.Images.AddImage(r.Context(), images.AddImageInput{
		VIN:        body.Vin,
		StorageKey: body.StorageKey,
		Type:       body.Type,
		Priority:   boolPtrFromNullable(body.Priority),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageFromDomain(img))
}

func (s *Server) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageIDParam(w, r)
	if !ok {
		return
	}
	if err := s.Images.DeleteImage(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) SetImagePriority(w http.ResponseWriter, r *http.Request) {
	id, ok := imageIDParam(w, r)
	if !ok {
		return
	}
	var body SetPriorityRequest
	if err := decodeBody(r, &body); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", map[string]any{"reason": err.Error()})
		return
	}
	if !body.Priority.IsSpecified() {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed",
			map[string]any{"fields": map[string]any{"priority": "required (true, false or null)"}})
		return
	}
	img, err := s.Images.SetPriority(r.Context(), id, boolPtrFromNullable(body.Priority))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageFromDomain(img))
}

func (s *Server) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	st := s.Images.CacheStats()
	writeJSON(w, http.StatusOK, CacheStatsResponse{Size: st.Size, Keys: st.Keys})
}

func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	s.Images.ClearAllCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ClearCacheForVIN(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Images.ClearCacheForVIN(r.Context(), chi.URLParam(r, "vin")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func imageIDParam(w http.ResponseWriter, r *http.Request) (domain.ImageID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "id must be a positive integer", map[string]any{"parameter": "id"})
		return 0, false
	}
	return domain.ImageID(id), true
}

const maxBodyBytes = 64 << 10

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

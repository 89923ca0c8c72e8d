// Package images exposes the vehicle image use cases: cached listing, the
// mutations that invalidate it, and cache administration.
package images

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/imagecache"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/clock"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/invalidation"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/objectstore"
)

// Options carries the optional collaborators. Nil fields are skipped.
type Options struct {
	Objects objectstore.Remover
	Bus     invalidation.Bus
	// Origin is stamped on published invalidations. Empty generates a random one.
	Origin  string
}

type Service struct {
	repo    imagerepo.Repository
	cache   *imagecache.Cache
	clk     clock.Clock
	objects objectstore.Remover
	bus     invalidation.Bus
	origin  string
}

func NewService(repo imagerepo.Repository, cache *imagecache.Cache, clk clock.Clock, opts Options) *Service {
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		clk:     clk,
		objects: opts.Objects,
		bus:     opts.Bus,
		origin:  origin,
	}
}

func (s *Service) ListImages(ctx context.Context, in ListImagesInput) (imagecache.List, error) {
	l, err := s.cache.GetImageList(ctx, imagecache.Request{
		VIN:      domain.NormalizeVIN(in.VIN),
		Type:     in.Type,
		Page:     in.Page,
		PageSize: in.PageSize,
	})
	if err != nil {
		if errors.Is(err, imagecache.ErrInvalidRequest) {
			return imagecache.List{}, vinRequired()
		}
		return imagecache.List{}, err
	}
	return l, nil
}

func (s *Service) AddImage(ctx context.Context, in AddImageInput) (domain.Image, error) {
	vin := domain.NormalizeVIN(in.VIN)
	key := strings.TrimSpace(in.StorageKey)

	fields := map[string]any{}
	if vin == "" {
		fields["vin"] = "required"
	}
	if key == "" {
		fields["storageKey"] = "required"
	}
	typ, ok := domain.ParseImageType(in.Type)
	if !ok {
		fields["type"] = "must be one of AUCTION, WAREHOUSE, DELIVERED, PICK_UP"
	}
	if len(fields) > 0 {
		return domain.Image{}, validationFailed(fields)
	}

	rec, err := s.repo.Create(ctx, imagerepo.Record{
		VIN:        vin,
		StorageKey: key,
		Type:       typ,
		Priority:   domain.CloneBoolPtr(in.Priority),
		CreatedAt:  s.clk.Now().UTC(),
	})
	if err != nil {
		return domain.Image{}, err
	}
	s.invalidate(ctx, vin)
	return s.cache.Image(rec), nil
}

// DeleteImage removes the record, then its stored object. A failed object
// removal is logged and does not fail the call.
func (s *Service) DeleteImage(ctx context.Context, id domain.ImageID) error {
	rec, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrNotFound) {
			return imageNotFound()
		}
		return err
	}
	if s.objects != nil {
		if err := s.objects.RemoveObject(ctx, rec.StorageKey); err != nil {
			log.WithFields(log.Fields{
				"image_id":    int64(rec.ID),
				"storage_key": rec.StorageKey,
				"error":       err,
			}).Warn("Failed to remove image object.")
		}
	}
	s.invalidate(ctx, rec.VIN)
	return nil
}

// SetPriority sets or clears the main-image flag. nil clears it.
func (s *Service) SetPriority(ctx context.Context, id domain.ImageID, priority *bool) (domain.Image, error) {
	rec, err := s.repo.SetPriority(ctx, id, domain.CloneBoolPtr(priority))
	if err != nil {
		if errors.Is(err, imagerepo.ErrNotFound) {
			return domain.Image{}, imageNotFound()
		}
		return domain.Image{}, err
	}
	s.invalidate(ctx, rec.VIN)
	return s.cache.Image(rec), nil
}

// ClearCacheForVIN drops every cached list for the vehicle here and on peers.
func (s *Service) ClearCacheForVIN(ctx context.Context, rawVIN string) (int, error) {
	vin := domain.NormalizeVIN(rawVIN)
	if vin == "" {
		return 0, vinRequired()
	}
	n := s.cache.ClearVIN(vin)
	s.publish(ctx, invalidation.Message{Scope: invalidation.ScopeVIN, VIN: vin})
	return n, nil
}

func (s *Service) ClearAllCache(ctx context.Context) int {
	n := s.cache.ClearAll()
	s.publish(ctx, invalidation.Message{Scope: invalidation.ScopeAll})
	return n
}

func (s *Service) CacheStats() imagecache.Stats {
	return s.cache.Stats()
}

// ApplyInvalidation applies a message received from a peer to the local cache.
// Messages this service published itself are ignored; it already cleared locally.
func (s *Service) ApplyInvalidation(msg invalidation.Message) {
	if msg.Origin == s.origin {
		return
	}
	switch msg.Scope {
	case invalidation.ScopeVIN:
		s.cache.ClearVIN(domain.NormalizeVIN(string(msg.VIN)))
	case invalidation.ScopeAll:
		s.cache.ClearAll()
	default:
		log.WithField("scope", msg.Scope).Warn("Ignoring invalidation with unknown scope.")
	}
}

func (s *Service) invalidate(ctx context.Context, vin domain.VIN) {
	n := s.cache.ClearVIN(vin)
	log.WithFields(log.Fields{"vin": vin, "removed": n}).Debug("Invalidated cached image lists.")
	s.publish(ctx, invalidation.Message{Scope: invalidation.ScopeVIN, VIN: vin})
}

// publish is best effort; failures are logged.
func (s *Service) publish(ctx context.Context, msg invalidation.Message) {
	if s.bus == nil {
		return
	}
	msg.Origin = s.origin
	if err := s.bus.Publish(ctx, msg); err != nil {
		log.WithFields(log.Fields{
			"scope": msg.Scope,
			"vin":   msg.VIN,
			"error": err,
		}).Warn("Failed to publish cache invalidation.")
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	memclock "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/clock"
	memidempotency "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/idempotency"
	memimagerepo "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/imagerepo"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/imagecache"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/images"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

const testToken = "s3cret"

type failingRepo struct {
	imagerepo.Repository
}

func (failingRepo) ListByVIN(context.Context, imagerepo.Query) (imagerepo.Page, error) {
	return imagerepo.Page{}, errors.New("db down")
}

func newTestRouter(t *testing.T, repo imagerepo.Repository, opts RouterOptions) http.Handler {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(1700000000, 0).UTC())
	cache := imagecache.New(repo, clk, imagecache.Config{PublicBaseURL: "https://cdn.example.com"})
	svc := images.NewService(repo, cache, clk, images.Options{})
	return NewRouter(NewServer(svc, DefaultCachePolicy), opts)
}

func seed(t *testing.T, repo *memimagerepo.Repo, vin domain.VIN, typ domain.ImageType, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.Create(context.Background(), imagerepo.Record{VIN: vin, StorageKey: "k.jpg", Type: typ})
		require.NoError(t, err)
	}
}

func do(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (code string, requestID string) {
	t.Helper()
	var er struct {
		Error struct {
			Code      string `json:"code"`
			RequestId string `json:"requestId"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &er), "body=%s", rr.Body.String())
	return er.Error.Code, er.Error.RequestId
}

func TestListImages_OKWithCacheHeaders(t *testing.T) {
	t.Parallel()
	repo := memimagerepo.NewRepo()
	seed(t, repo, "VIN1", domain.ImageTypeAuction, 15)
	h := newTestRouter(t, repo, RouterOptions{})

	rr := do(t, h, http.MethodGet, "/api/images?vin=vin1&page=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "public, s-maxage=10, stale-while-revalidate=59", rr.Header().Get("Cache-Control"))

	var got ImageListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 15, got.Count)
	assert.Equal(t, 2, got.TotalPages)
	assert.Equal(t, 2, got.CurrentPage)
	assert.Len(t, got.Images, 3)
	assert.Equal(t, "https://cdn.example.com/k.jpg", got.Images[0].Url)
	assert.Contains(t, rr.Body.String(), `"priority":null`)
}

func TestListImages_InvalidTypeMeansNoFilter(t *testing.T) {
	t.Parallel()
	repo := memimagerepo.NewRepo()
	seed(t, repo, "VIN1", domain.ImageTypeAuction, 2)
	seed(t, repo, "VIN1", domain.ImageTypeDelivered, 1)
	h := newTestRouter(t, repo, RouterOptions{})

	rr := do(t, h, http.MethodGet, "/api/images?vin=VIN1&type=BOAT", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got ImageListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Count)

	rr = do(t, h, http.MethodGet, "/api/images?vin=VIN1&type=delivered", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Count)
}

func TestListImages_BadRequests(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{})

	for _, target := range []string{
		"/api/images",
		"/api/images?vin=VIN1&page=two",
		"/api/images?vin=VIN1&pageSize=1.5",
	} {
		rr := do(t, h, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		code, rid := decodeError(t, rr)
		assert.Equal(t, "INVALID_PARAMETER", code, target)
		assert.NotEmpty(t, rid, "request id is echoed in errors")
	}

	rr := do(t, h, http.MethodGet, "/api/images?vin=%20", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	code, _ := decodeError(t, rr)
	assert.Equal(t, "VIN_REQUIRED", code)
}

func TestListImages_StoreFailureIs500(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, failingRepo{Repository: memimagerepo.NewRepo()}, RouterOptions{})

	rr := do(t, h, http.MethodGet, "/api/images?vin=VIN1", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	code, _ := decodeError(t, rr)
	assert.Equal(t, "INTERNAL", code)
	assert.NotContains(t, rr.Body.String(), "db down")
	assert.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestAdminRoutes_DisabledWithoutToken(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{})

	rr := do(t, h, http.MethodGet, "/api/admin/image-cache", "anything", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{AdminToken: testToken})

	rr := do(t, h, http.MethodGet, "/api/admin/image-cache", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, http.MethodGet, "/api/admin/image-cache", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/admin/image-cache", testToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"size":0,"keys":[]}`, rr.Body.String())
}

func TestImageMutations(t *testing.T) {
	t.Parallel()
	repo := memimagerepo.NewRepo()
	h := newTestRouter(t, repo, RouterOptions{AdminToken: testToken})

	rr := do(t, h, http.MethodPost, "/api/images", testToken, map[string]any{"vin": "VIN1", "storageKey": "a.jpg", "type": "PICK_UP", "priority": true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var img Image
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &img))
	v, err := img.Priority.Get()
	require.NoError(t, err)
	assert.True(t, v)

	rr = do(t, h, http.MethodPut, "/api/images/"+itoa(img.Id)+"/priority", testToken, map[string]any{"priority": nil})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"priority":null`)

	rr = do(t, h, http.MethodPut, "/api/images/"+itoa(img.Id)+"/priority", testToken, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/images", testToken, map[string]any{"vin": "VIN1", "storageKey": "", "type": "BOAT"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	code, _ := decodeError(t, rr)
	assert.Equal(t, "VALIDATION_ERROR", code)

	rr = do(t, h, http.MethodDelete, "/api/images/abc", testToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodDelete, "/api/images/"+itoa(img.Id), testToken, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodDelete, "/api/images/"+itoa(img.Id), testToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAddImage_IdempotencyKeyReplays(t *testing.T) {
	t.Parallel()
	repo := memimagerepo.NewRepo()
	clk := memclock.NewManualClock(time.Unix(1700000000, 0).UTC())
	store := memidempotency.NewStore(clk, time.Hour)
	h := newTestRouter(t, repo, RouterOptions{AdminToken: testToken, Idempotency: store})

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	body := `{"vin":"VIN1","storageKey":"a.jpg","type":"AUCTION"}`

	first := post("retry-1", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get("Idempotency-Replayed"))

	again := post("retry-1", body)
	require.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())

	page, err := repo.ListByVIN(context.Background(), imagerepo.Query{VIN: "VIN1"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// A different body under the same key is a new request.
	other := post("retry-1", `{"vin":"VIN1","storageKey":"b.jpg","type":"AUCTION"}`)
	require.Equal(t, http.StatusCreated, other.Code)
	assert.Empty(t, other.Header().Get("Idempotency-Replayed"))

	// Without a key nothing is replayed.
	plain := post("", body)
	require.Equal(t, http.StatusCreated, plain.Code)
	assert.Empty(t, plain.Header().Get("Idempotency-Replayed"))

	tooLong := post(strings.Repeat("k", 256), body)
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)
}

func TestCacheAdminRoutes(t *testing.T) {
	t.Parallel()
	repo := memimagerepo.NewRepo()
	h := newTestRouter(t, repo, RouterOptions{AdminToken: testToken})

	for _, q := range []string{"vin=VIN1", "vin=VIN1&page=2", "vin=VIN2"} {
		rr := do(t, h, http.MethodGet, "/api/images?"+q, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := do(t, h, http.MethodDelete, "/api/admin/image-cache/vin1", testToken, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/admin/image-cache", testToken, nil)
	var stats CacheStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, []string{"page=1&pageSize=12&type=&vin=VIN2"}, stats.Keys)

	rr = do(t, h, http.MethodDelete, "/api/admin/image-cache", testToken, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodGet, "/api/admin/image-cache", testToken, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Size)
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{RateLimit: rate.Every(time.Hour), RateLimitBurst: 1})

	rr := do(t, h, http.MethodGet, "/api/images?vin=VIN1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/images?vin=VIN1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Out-of-band endpoints are not limited.
	rr = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{})

	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	_ = do(t, h, http.MethodGet, "/api/images?vin=VIN1", "", nil)
	rr = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "gallery_image_cache_misses_total"))
	assert.True(t, strings.Contains(rr.Body.String(), "gallery_http_requests_total"))
}

func TestUnknownRoute_JSON404(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, memimagerepo.NewRepo(), RouterOptions{})

	rr := do(t, h, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	code, _ := decodeError(t, rr)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestCachePolicy_Header(t *testing.T) {
	t.Parallel()
	p := CachePolicy{MaxAge: 1500 * time.Millisecond, StaleWhileRevalidate: time.Minute}
	assert.Equal(t, "public, s-maxage=2, stale-while-revalidate=60", p.header())
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

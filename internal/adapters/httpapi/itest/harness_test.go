package itest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/httpapi"
	memclock "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/clock"
	memidempotency "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/idempotency"
	memimagerepo "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/imagerepo"
	meminvalidation "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/invalidation"
	memobjectstore "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/objectstore"
	pgidempotency "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres/idempotency"
	pgimagerepo "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres/imagerepo"
	postgres_testutil "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres/testutil"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/imagecache"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/images"
	idempotencyport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
	imagerepoport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

const adminToken = "itest-admin-token"

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL string
	client  *http.Client
	clock   *memclock.ManualClock
	objects *memobjectstore.Remover
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var (
		repo imagerepoport.Repository
		idem idempotencyport.Store
	)
	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		repo = pgimagerepo.NewRepo(pool)
		idem = pgidempotency.NewStore(pool, clk, time.Hour)
	case backendMemory:
		repo = memimagerepo.NewRepo()
		idem = memidempotency.NewStore(clk, time.Hour)
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	cache := imagecache.New(repo, clk, imagecache.Config{PublicBaseURL: "https://cdn.itest.local"})
	objects := memobjectstore.NewRemover()
	bus := meminvalidation.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	svc := images.NewService(repo, cache, clk, images.Options{Objects: objects, Bus: bus})
	api := httpapi.NewServer(svc, httpapi.DefaultCachePolicy)
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{AdminToken: adminToken, Idempotency: idem})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		clock:   clk,
		objects: objects,
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, token string, body any) (int, []byte, http.Header) {
	t.Helper()
	return s.doJSONWithHeaders(t, method, path, token, body, nil)
}

func (s *testServer) doJSONWithHeaders(t *testing.T, method string, path string, token string, body any, extra map[string]string) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type imageBody struct {
	Id         int64  `json:"id"`
	StorageKey string `json:"storageKey"`
	Type       string `json:"type"`
	Vin        string `json:"vin"`
	Priority   *bool  `json:"priority"`
	Url        string `json:"url"`
}

type imageListBody struct {
	Images      []imageBody `json:"images"`
	Count       int         `json:"count"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	requireStatus(t, status, body, wantStatus)
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"media-archive/internal/cache"
	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/extractor"
	"media-archive/internal/ingest"
	"media-archive/internal/mediatypes"
	"media-archive/internal/sidecar"

	"github.com/disintegration/imaging"
)

type testServer struct {
	h      *Handlers
	router http.Handler
	store  *contentstore.Store
	src    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(context.Background(), filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := contentstore.New(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("contentstore.New() error = %v", err)
	}

	ext := extractor.New(extractor.Config{
		ExiftoolPath: "exiftool-not-installed",
		FFprobePath:  "ffprobe-not-installed",
	})
	gcfg := derivative.DefaultConfig()
	gcfg.SmallEdge, gcfg.LargeEdge, gcfg.PreviewEdge = 40, 80, 160
	gcfg.FFmpegPath = "ffmpeg-not-installed"
	gen := derivative.New(gcfg, store, ext)
	side := sidecar.New(db, store, ext, 2)

	coord, err := ingest.New(ingest.Deps{
		DB: db, Store: store, Extractor: ext, Generator: gen, Sidecars: side,
	}, ingest.Config{Workers: 2})
	if err != nil {
		t.Fatalf("ingest.New() error = %v", err)
	}
	t.Cleanup(coord.Close)

	eng := cache.New(cache.Config{BudgetBytes: 1 << 20, PreloadWorkers: 1}, cache.StoreLoader{Store: store, Index: db})
	t.Cleanup(eng.Close)

	h := New(Deps{DB: db, Store: store, Ingest: coord, Sidecars: side, Cache: eng})
	h.SetReady(true)

	src := filepath.Join(dir, "incoming")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	return &testServer{h: h, router: h.Router(), store: store, src: src}
}

func (s *testServer) writeImage(t *testing.T, name string, shade uint8) string {
	t.Helper()
	path := filepath.Join(s.src, name)
	img := imaging.New(300, 200, color.NRGBA{R: shade, G: 120, B: 60, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// importPaths submits paths, waits for the session and returns the snapshot.
func (s *testServer) importPaths(t *testing.T, paths ...string) ingest.Snapshot {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/imports", ImportRequest{Paths: paths, Wait: true})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/imports = %d: %s", w.Code, w.Body.String())
	}
	var snap ingest.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestSubmitImportAndFetch(t *testing.T) {
	s := newTestServer(t)
	a := s.writeImage(t, "a.jpg", 10)

	snap := s.importPaths(t, a)
	if snap.Status != ingest.SessionCompleted || snap.Stored != 1 {
		t.Fatalf("snapshot = %+v, want completed with 1 stored", snap)
	}
	d := snap.Outcomes[0].Digest

	w := s.do(t, http.MethodGet, "/api/imports/"+snap.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET import = %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/assets/"+string(d), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET asset = %d: %s", w.Code, w.Body.String())
	}
	var asset database.Asset
	if err := json.NewDecoder(w.Body).Decode(&asset); err != nil {
		t.Fatal(err)
	}
	if asset.Kind != mediatypes.KindImage || asset.OriginalName != "a.jpg" {
		t.Errorf("asset = %+v", asset)
	}

	w = s.do(t, http.MethodGet, "/api/assets/"+string(d)+"/small", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET small = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("empty derivative body")
	}

	etag := w.Header().Get("ETag")
	req := httptest.NewRequest(http.MethodGet, "/api/assets/"+string(d)+"/small", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional GET = %d, want 304", rec.Code)
	}

	w = s.do(t, http.MethodGet, "/api/assets/"+string(d)+"/original", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("GET original = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	orig, _ := os.ReadFile(a)
	if !bytes.Equal(w.Body.Bytes(), orig) {
		t.Error("original bytes differ from source")
	}
}

func TestSubmitImportErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty batch", `{"paths":[]}`, http.StatusBadRequest},
		{"malformed json", `{"paths":`, http.StatusBadRequest},
		{"unknown field", `{"files":["x"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAssetNotFound(t *testing.T) {
	s := newTestServer(t)
	missing := strings.Repeat("ab", 32)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/assets/" + missing, http.StatusNotFound},
		{"/api/assets/" + missing + "/small", http.StatusNotFound},
		{"/api/assets/" + missing + "/original", http.StatusNotFound},
		{"/api/assets/" + missing + "/huge", http.StatusBadRequest},
		{"/api/assets/not-a-digest", http.StatusNotFound},
		{"/api/imports/does-not-exist", http.StatusNotFound},
		{"/api/imports/does-not-exist/events", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if w := s.do(t, http.MethodGet, tt.target, nil); w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.target, w.Code, tt.want)
			}
		})
	}
}

func TestImportEventsStream(t *testing.T) {
	s := newTestServer(t)
	snap := s.importPaths(t, s.writeImage(t, "a.jpg", 20), filepath.Join(s.src, "missing.jpg"))

	w := s.do(t, http.MethodGet, "/api/imports/"+snap.ID+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET events = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var events []ingest.Event
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		var ev ingest.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	for i, ev := range events {
		if ev.Seq != i {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}

	terminal := 0
	for _, ev := range events {
		if ev.Outcome != nil {
			terminal++
		}
	}
	if terminal != 2 {
		t.Errorf("got %d terminal events, want 2", terminal)
	}
}

func TestCancelImport(t *testing.T) {
	s := newTestServer(t)
	snap := s.importPaths(t, s.writeImage(t, "a.jpg", 30))

	if w := s.do(t, http.MethodDelete, "/api/imports/"+snap.ID, nil); w.Code != http.StatusAccepted {
		t.Errorf("DELETE finished import = %d, want 202", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/api/imports/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown import = %d, want 404", w.Code)
	}
}

func TestUpdateAssetMetadata(t *testing.T) {
	s := newTestServer(t)
	snap := s.importPaths(t, s.writeImage(t, "a.jpg", 40))
	d := snap.Outcomes[0].Digest
	target := "/api/assets/" + string(d) + "/metadata"

	w := s.do(t, http.MethodPut, target, mediatypes.UserMetadata{Rating: 4, Keywords: []string{"b", "a", "a"}})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT metadata = %d: %s", w.Code, w.Body.String())
	}
	var a database.Asset
	if err := json.NewDecoder(w.Body).Decode(&a); err != nil {
		t.Fatal(err)
	}
	if a.User.Rating != 4 || strings.Join(a.User.Keywords, ",") != "a,b" {
		t.Errorf("user = %+v", a.User)
	}
	if a.SidecarRevision != 2 || a.SidecarState != database.SidecarSynced {
		t.Errorf("revision %d state %s, want 2 synced", a.SidecarRevision, a.SidecarState)
	}

	data, err := os.ReadFile(s.store.SidecarPath(d))
	if err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	if !bytes.Contains(data, []byte("xmp:Rating=\"4\"")) {
		t.Errorf("sidecar missing rating:\n%s", data)
	}

	if w := s.do(t, http.MethodPut, target, mediatypes.UserMetadata{Rating: 9}); w.Code != http.StatusBadRequest {
		t.Errorf("PUT rating 9 = %d, want 400", w.Code)
	}
	missing := "/api/assets/" + strings.Repeat("cd", 32) + "/metadata"
	if w := s.do(t, http.MethodPut, missing, mediatypes.UserMetadata{Rating: 1}); w.Code != http.StatusNotFound {
		t.Errorf("PUT unknown asset = %d, want 404", w.Code)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	snap := s.importPaths(t, s.writeImage(t, "a.jpg", 50), s.writeImage(t, "b.jpg", 60))
	if snap.Stored != 2 {
		t.Fatalf("stored = %d, want 2", snap.Stored)
	}

	w := s.do(t, http.MethodPost, "/api/reconcile", ReconcileRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile = %d", w.Code)
	}
	var rep sidecar.Report
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Total != 2 || rep.Unchanged != 2 {
		t.Errorf("reconcile report = %+v", rep)
	}

	w = s.do(t, http.MethodPost, "/api/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d: %s", w.Code, w.Body.String())
	}
	var rb sidecar.RebuildReport
	if err := json.NewDecoder(w.Body).Decode(&rb); err != nil {
		t.Fatal(err)
	}
	if rb.Assets != 2 || rb.WithSidecar != 2 {
		t.Errorf("rebuild report = %+v", rb)
	}

	if w := s.do(t, http.MethodPost, "/api/maintenance/backfill", nil); w.Code != http.StatusOK {
		t.Errorf("backfill = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/maintenance/sweep", nil); w.Code != http.StatusOK {
		t.Errorf("sweep = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/reconcile", ReconcileRequest{Digests: []string{"zz"}}); w.Code != http.StatusBadRequest {
		t.Errorf("reconcile bad digest = %d, want 400", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t)
	s.importPaths(t, s.writeImage(t, "a.jpg", 70))

	w := s.do(t, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var body struct {
		Index  database.Stats `json:"index"`
		Memory memoryStats    `json:"memory"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Index.TotalAssets != 1 || body.Index.Images != 1 {
		t.Errorf("index stats = %+v", body.Index)
	}
	// No monitor is configured in tests.
	if body.Memory.Level != "normal" || body.Memory.Limit != 0 {
		t.Errorf("memory stats = %+v", body.Memory)
	}
}

func TestPreload(t *testing.T) {
	s := newTestServer(t)
	snap := s.importPaths(t, s.writeImage(t, "a.jpg", 70))
	d := snap.Outcomes[0].Digest

	w := s.do(t, http.MethodPost, "/api/preload", PreloadRequest{Digests: []string{string(d)}, Kind: "large"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("preload = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/preload", PreloadRequest{Kind: "huge"}); w.Code != http.StatusBadRequest {
		t.Errorf("preload bad kind = %d, want 400", w.Code)
	}
}

func TestHealthProbes(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodGet, "/livez", nil); w.Code != http.StatusOK {
		t.Errorf("livez = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/health", nil)
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || resp.Status != statusHealthy || resp.Index == nil {
		t.Errorf("health = %d %+v", w.Code, resp)
	}

	s.h.SetReady(false)
	if w := s.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while starting = %d, want 503", w.Code)
	}
	w = s.do(t, http.MethodGet, "/health", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusServiceUnavailable || resp.Status != statusStarting {
		t.Errorf("health while starting = %d %q", w.Code, resp.Status)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tpersp/piviewer/catalog"
	"github.com/tpersp/piviewer/display"
	"github.com/tpersp/piviewer/peersync"
	"github.com/tpersp/piviewer/rotation"
	"github.com/tpersp/piviewer/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopRenderer struct{}

func (nopRenderer) Render(display.Handle, string, int) error { return nil }

type testServer struct {
	ws       *WebServer
	db       *store.Database
	imageDir string
}

func newTestServer(t *testing.T, withCoordinator bool) *testServer {
	t.Helper()

	imageDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(imageDir, "vacation"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(imageDir, "vacation", "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "piviewer.db"))
	if err != nil {
		t.Fatalf("NewDatabase returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lister := catalog.NewDirLister(imageDir)
	resolver := catalog.NewResolver(lister)
	handles := []display.Handle{{Name: "HDMI-1", Resolution: "1920x1080", Index: 0}}

	scheduler, err := rotation.NewScheduler(db, resolver, nil, nopRenderer{}, handles, 60)
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	scheduler.Start(ctx)

	var coordinator *peersync.Coordinator
	if withCoordinator {
		coordinator = peersync.NewCoordinator(db, peersync.NewClient(time.Second), time.Hour)
	}

	return &testServer{
		ws:       NewWebServer(db, scheduler, lister, coordinator, imageDir),
		db:       db,
		imageDir: imageDir,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.ws.router.ServeHTTP(w, req)
	return w
}

func TestSyncConfigReturnsDeviceConfig(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/sync_config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	var cfg store.DeviceConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if cfg.Role != store.RoleMain {
		t.Fatalf("unexpected role: %q", cfg.Role)
	}
	if _, ok := cfg.Displays["HDMI-1"]; !ok {
		t.Fatalf("HDMI-1 missing from displays: %+v", cfg.Displays)
	}
}

func TestUpdateConfigAppliesAndPersists(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodPost, "/update_config", map[string]any{
		"displays": map[string]store.SlotConfig{
			"HDMI-1": {Mode: store.ModeRandomImage, IntervalSeconds: 10, Category: "vacation"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	var result rotation.ApplyResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !result.OK() || len(result.Applied) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, err := ts.db.GetAllSlotConfigs()
	if err != nil {
		t.Fatalf("GetAllSlotConfigs returned error: %v", err)
	}
	if stored["HDMI-1"].Category != "vacation" {
		t.Fatalf("config not persisted: %+v", stored["HDMI-1"])
	}
}

func TestUpdateConfigNothingAppliedIsBadRequest(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodPost, "/update_config", map[string]any{
		"displays": map[string]store.SlotConfig{
			"HDMI-1": {Mode: store.ModeRandomImage, IntervalSeconds: 10, Category: "gone"},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// empty displays is also a bad request
	w = ts.do(t, http.MethodPost, "/update_config", map[string]any{"displays": map[string]store.SlotConfig{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty displays, got %d", w.Code)
	}
}

func TestListMonitors(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/list_monitors", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}

	var handles []display.Handle
	if err := json.Unmarshal(w.Body.Bytes(), &handles); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(handles) != 1 || handles[0].Name != "HDMI-1" {
		t.Fatalf("unexpected handles: %+v", handles)
	}
}

func TestStatusSnapshot(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}

	var snap map[string]rotation.SlotStatus
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if _, ok := snap["HDMI-1"]; !ok {
		t.Fatalf("HDMI-1 missing from snapshot: %+v", snap)
	}
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "sunset.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "jpeg bytes")
	mw.WriteField("folder", "vacation")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.ws.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(ts.imageDir, "vacation", "sunset.jpg")); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	ts := newTestServer(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "malware.exe")
	fmt.Fprint(part, "nope")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.ws.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Unsupported file extension") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestDeleteMedia(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodDelete, "/media/vacation/a.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(ts.imageDir, "vacation", "a.jpg")); !os.IsNotExist(err) {
		t.Fatal("file not deleted")
	}

	w = ts.do(t, http.MethodDelete, "/media/vacation/a.jpg", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodPut, "/settings", map[string]string{
		"role":      "sub",
		"main_addr": "192.168.1.10:8080",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/settings", nil)
	var settings store.DeviceSettings
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if settings.Role != store.RoleSub || settings.MainAddr != "192.168.1.10:8080" {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	// switching back to main clears the upstream address
	w = ts.do(t, http.MethodPut, "/settings", map[string]string{
		"role":      "main",
		"main_addr": "should-be-dropped",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if settings.MainAddr != "" {
		t.Fatalf("main role kept main_addr: %q", settings.MainAddr)
	}

	w = ts.do(t, http.MethodPut, "/settings", map[string]string{"role": "supervisor"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad role, got %d", w.Code)
	}
}

func TestDeviceRoutesRequireCoordinator(t *testing.T) {
	ts := newTestServer(t, false)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/devices"},
		{http.MethodPost, "/devices"},
		{http.MethodDelete, "/devices/kitchen"},
		{http.MethodPost, "/devices/kitchen/pull"},
		{http.MethodPost, "/devices/kitchen/push"},
	} {
		w := ts.do(t, route.method, route.path, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", route.method, route.path, w.Code)
		}
	}
}

func TestDeviceLifecycleOverAPI(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/devices", map[string]string{"name": "kitchen", "addr": "192.0.2.1:8080"})
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/devices", nil)
	var statuses []peersync.PeerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "kitchen" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}

	// pulling an unreachable peer maps to a gateway error
	w = ts.do(t, http.MethodPost, "/devices/kitchen/pull", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodDelete, "/devices/kitchen", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodDelete, "/devices/kitchen", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 removing missing device, got %d", w.Code)
	}

	// missing fields rejected
	w = ts.do(t, http.MethodPost, "/devices", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

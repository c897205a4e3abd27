package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusnav/presence-server/internal/config"
	"campusnav/presence-server/internal/model"
	"campusnav/presence-server/internal/store"
	"campusnav/presence-server/internal/transport"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := config.Config{
		HTTPPort:     8080,
		DatabasePath: filepath.Join(t.TempDir(), "campusnav.db"),
		LogLevel:     "error",
	}

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	db, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))
	a.store = db

	return a
}

func doRequest(t *testing.T, a *App, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestValidDetectionUpdatesStore(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	payload := []byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_D103","room":"D103","rssi":-55}`)
	a.ingestDetection(ctx, transport.ScannerTopic("SC_D103"), payload)

	record, err := a.store.GetLocation(ctx, "FAC_101")
	require.NoError(t, err)
	assert.Equal(t, "D103", record.Room)
	assert.Equal(t, -55, record.RSSI)
}

func TestIngestRejectedDetectionLeavesStoreUnchanged(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	payloads := []string{
		`not json at all`,
		`{"facultyId":"101","scannerId":"SC_D103","room":"D103","rssi":-55}`,
		`{"facultyId":"FAC_101","scannerId":"SC_D103","room":"D103","rssi":15}`,
		`{"facultyId":"FAC_101","scannerId":"SC_D103","room":"D103"}`,
	}
	for _, p := range payloads {
		a.ingestDetection(ctx, transport.ScannerTopic("SC_D103"), []byte(p))
	}

	_, err := a.store.GetLocation(ctx, "FAC_101")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestLastWriteWinsAcrossScanners(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	a.ingestDetection(ctx, transport.ScannerTopic("SC_D103"),
		[]byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_D103","room":"D103","rssi":-55}`))
	a.ingestDetection(ctx, transport.ScannerTopic("SC_A201"),
		[]byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_A201","room":"A201","rssi":-80}`))

	record, err := a.store.GetLocation(ctx, "FAC_101")
	require.NoError(t, err)
	assert.Equal(t, "A201", record.Room, "weaker signal from a later cycle still wins")
	assert.Equal(t, -80, record.RSSI)
}

func TestLocationByIDEndpoint(t *testing.T) {
	a := newTestApp(t)

	rec := doRequest(t, a, http.MethodGet, "/api/locations/FAC_101", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no tracking data", decodeBody(t, rec)["error"])

	a.ingestDetection(context.Background(), transport.ScannerTopic("SC_D103"),
		[]byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_D103","room":"D103","rssi":-55}`))

	rec = doRequest(t, a, http.MethodGet, "/api/locations/FAC_101", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "D103", body["room"])
	assert.Equal(t, float64(-55), body["rssi"])
}

func TestFacultyLocationDistinguishesUnknownFromUntracked(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// person does not exist in the directory
	rec := doRequest(t, a, http.MethodGet, "/api/faculty/location?name=Asha+Verma", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "faculty not found", decodeBody(t, rec)["error"])

	require.NoError(t, a.store.UpsertFaculty(ctx, model.FacultyMember{
		FacultyID: "FAC_101", Name: "Asha Verma", Department: "Physics",
	}))

	// person exists but has never been detected
	rec = doRequest(t, a, http.MethodGet, "/api/faculty/location?name=Asha+Verma", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no tracking data", decodeBody(t, rec)["error"])

	a.ingestDetection(ctx, transport.ScannerTopic("SC_D103"),
		[]byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_D103","room":"D103","rssi":-55}`))

	rec = doRequest(t, a, http.MethodGet, "/api/faculty/location?name=Asha+Verma", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Asha Verma", body["name"])
	assert.Equal(t, "Physics", body["department"])
	assert.Equal(t, "D103", body["room"])

	// lookup by raw id works too
	rec = doRequest(t, a, http.MethodGet, "/api/faculty/location?id=FAC_101", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFacultyUpsertEndpoint(t *testing.T) {
	a := newTestApp(t)

	rec := doRequest(t, a, http.MethodPost, "/api/faculty",
		`{"facultyId":"FAC_102","name":"Ben Okafor","department":"Chemistry"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, a, http.MethodGet, "/api/faculty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["faculty"], 1)

	rec = doRequest(t, a, http.MethodPost, "/api/faculty", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadyzReportsConnectivity(t *testing.T) {
	a := newTestApp(t)

	// no transport configured: degraded but not an error response shape
	rec := doRequest(t, a, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["mqtt_connected"])
	assert.Equal(t, true, body["storage_connected"])
}

func TestWipeEndpointRequiresConfirmation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	a.ingestDetection(ctx, transport.ScannerTopic("SC_D103"),
		[]byte(`{"facultyId":"FAC_101","tagId":"TAG_01","scannerId":"SC_D103","room":"D103","rssi":-55}`))

	rec := doRequest(t, a, http.MethodPost, "/api/admin/wipe", `{"confirm":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, a, http.MethodPost, "/api/admin/wipe", `{"confirm":"wipe"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := a.store.GetLocation(ctx, "FAC_101")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

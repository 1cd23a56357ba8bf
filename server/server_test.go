package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"provider-directory/feed"
	"provider-directory/metrics"
	"provider-directory/models"
	"provider-directory/services"
	"provider-directory/snapshot"
	"provider-directory/storage"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const feedHeader = "location_id,institution_id,title,street,house_number,city,postal_code," +
	"categories,specialization,latitude,longitude,institution_type,phone,fax,email," +
	"website,ico,care_form,care_type,substitute"

// newTestServer wires the full stack over in-memory SQLite and a stub feed.
func newTestServer(t *testing.T, feedBody string) (*httptest.Server, *snapshot.Gate) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	store, err := storage.New(db)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	gate := snapshot.NewGate(dir)
	builder := snapshot.NewBuilder(store, dir, 500, testLogger())
	fetcher := feed.NewFetcher(upstream.URL, 5*time.Second, 1, testLogger())
	m := metrics.New()

	updater := services.NewUpdater(fetcher, feed.NewParser(), store, builder, gate, m, 500, testLogger())
	directory := services.NewDirectory(store, testLogger())

	s := New(":0", updater, directory, gate, m.Handler(), testLogger())
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)

	return srv, gate
}

func feedBody(n int) string {
	var sb strings.Builder
	sb.WriteString(feedHeader + "\n")
	for i := 1; i <= n; i++ {
		sb.WriteString(fmt.Sprintf("%d,1,Provider %d,,,,,dentist,,,,,,,,,,,,\n", i, i))
	}
	return sb.String()
}

func TestUpdateThenDetailAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, feedBody(3))

	resp, err := http.Post(srv.URL+"/api/update", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/providers/2/1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status = %d", resp.StatusCode)
	}

	var p models.Provider
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Title != "Provider 2" {
		t.Errorf("title = %q", p.Title)
	}

	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status services.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Updating || status.LastUpdate == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestDetailNotFoundMapsTo404(t *testing.T) {
	srv, _ := newTestServer(t, feedBody(1))

	resp, err := http.Get(srv.URL + "/api/providers/999/999")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "not_found" {
		t.Errorf("error kind = %q", body["error"])
	}
}

func TestEmptyFeedMapsTo422(t *testing.T) {
	srv, _ := newTestServer(t, feedHeader+"\n")

	resp, err := http.Post(srv.URL+"/api/update", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d; want 422", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "empty_dataset" {
		t.Errorf("error kind = %q", body["error"])
	}
}

func TestSnapshotEndpointGatedWhileUpdating(t *testing.T) {
	srv, gate := newTestServer(t, feedBody(1))

	gate.BeginUpdate()
	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status during update = %d; want 409", resp.StatusCode)
	}
	gate.EndUpdate()

	// Publish through a real cycle, then the download must succeed.
	resp, err = http.Post(srv.URL+"/api/update", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status = %d; want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
}

func TestBatchDetails(t *testing.T) {
	srv, _ := newTestServer(t, feedBody(3))

	resp, err := http.Post(srv.URL+"/api/update", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	payload := `[{"locationId":3,"institutionId":1},{"locationId":1,"institutionId":1}]`
	resp, err = http.Post(srv.URL+"/api/providers/batch", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var providers []*models.Provider
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		t.Fatal(err)
	}
	if len(providers) != 2 || providers[0].Title != "Provider 3" {
		t.Errorf("batch result = %+v", providers)
	}

	// One missing key fails the whole call.
	payload = `[{"locationId":1,"institutionId":1},{"locationId":999,"institutionId":1}]`
	resp, err = http.Post(srv.URL+"/api/providers/batch", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", resp.StatusCode)
	}
}

package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"groupshare/inventory"
	"groupshare/logging"
)

func TestStatusReportsSpaceAccountingAndFileCount(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	inv, err := inventory.Open(dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer inv.Close()

	srv := New("127.0.0.1:0", inv, logging.New(discard{}, "test"))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.AvailableSpace != 90 {
		t.Fatalf("available_space = %d, want 90", body.AvailableSpace)
	}
	if body.FileCount != 1 {
		t.Fatalf("file_count = %d, want 1", body.FileCount)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	dir := t.TempDir()
	inv, err := inventory.Open(dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer inv.Close()

	srv := New("127.0.0.1:0", inv, logging.New(discard{}, "test"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	mng "github.com/loykin/provisr/internal/manager"
	"github.com/loykin/provisr/internal/process"
)

func TestAPIListAndGetProcess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	id, err := mgr.StartRecord(process.Spec{Name: "api-demo", Command: "/bin/true"})
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	h := NewRouter(mgr, "").Handler()

	rec := doReq(t, h, http.MethodGet, "/api/processes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Processes []mng.Snapshot `json:"processes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listResp.Processes) != 1 {
		t.Fatalf("expected 1 process, got %d", len(listResp.Processes))
	}

	rec = doReq(t, h, http.MethodGet, "/api/processes/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/api/processes/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPIDeleteProcess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	id, err := mgr.StartRecord(process.Spec{Name: "api-delete", Command: "/bin/true"})
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	h := NewRouter(mgr, "").Handler()

	rec := doReq(t, h, http.MethodDelete, "/api/processes/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodDelete, "/api/processes/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double delete, got %d", rec.Code)
	}
}

func TestAPIRestartWithPortOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	id, err := mgr.StartRecord(process.Spec{Name: "api-restart", Command: "/bin/true"})
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	h := NewRouter(mgr, "").Handler()

	rec := doReq(t, h, http.MethodPost, "/api/processes/"+id+"/restart", map[string]any{
		"port": 18080,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodPost, "/api/processes/"+id+"/restart", map[string]any{
		"port":       18080,
		"port_range": []int{18080, 18090},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for conflicting port forms, got %d", rec.Code)
	}
}

func TestAPIAuthRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	r := NewRouter(mgr, "")
	r.SetAPIKey("s3cret")
	h := r.Handler()

	rec := doReq(t, h, http.MethodGet, "/api/processes", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer auth, got %d", rw.Code)
	}
}

func TestAPISystemAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(mng.NewManager(), "").Handler()

	rec := doReq(t, h, http.MethodGet, "/api/system", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPISecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(mng.NewManager(), "").Handler()

	rec := doReq(t, h, http.MethodGet, "/api/system", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing X-Frame-Options header")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestAPIOptionsPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(mng.NewManager(), "").Handler()

	rec := doReq(t, h, http.MethodOptions, "/api/processes", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

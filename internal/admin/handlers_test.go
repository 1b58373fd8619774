package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arenabridge/bridge/internal/pool"
	"github.com/gin-gonic/gin"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testServiceConfig(t.TempDir()), discardLogger(), pool.New(), func() bool { return true })
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Shutdown)
	return svc
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(svc.Middleware())
	engine.POST("/v1/chat/completions", func(c *gin.Context) {
		c.Set("model", "gpt-test")
		c.Set("request_id", "req-123")
		c.Status(http.StatusOK)
	})
	svc.RegisterRoutes(engine)
	return engine
}

func TestHandleHealthzReportsPeerConnectivity(t *testing.T) {
	svc := newTestService(t)
	engine := newTestRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["peer_connected"] != true {
		t.Fatalf("expected peer_connected true, got %+v", body)
	}
}

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	svc := newTestService(t)
	engine := newTestRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRecordsRequestThenListAndGetReflectIt(t *testing.T) {
	svc := newTestService(t)
	engine := newTestRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from chat completions stub, got %d", rec.Code)
	}

	listRec := httptest.NewRecorder()
	engine.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/admin/requests", nil))
	var listBody struct {
		Requests []RequestDetails `json:"requests"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listBody.Requests) != 1 || listBody.Requests[0].RequestID != "req-123" {
		t.Fatalf("expected the recorded request to show up, got %+v", listBody.Requests)
	}

	getRec := httptest.NewRecorder()
	engine.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/admin/requests/req-123", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known request id, got %d", getRec.Code)
	}

	missingRec := httptest.NewRecorder()
	engine.ServeHTTP(missingRec, httptest.NewRequest(http.MethodGet, "/admin/requests/does-not-exist", nil))
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request id, got %d", missingRec.Code)
	}
}

func TestHandlePoolStatusReflectsPoolState(t *testing.T) {
	svc := newTestService(t)
	svc.pool.Register("gpt-test")
	engine := newTestRouter(svc)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/pool", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Pool map[string]pool.ModelStatus `json:"pool"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := body.Pool["gpt-test"]; !ok {
		t.Fatalf("expected gpt-test to be present in pool status, got %+v", body.Pool)
	}
}

func TestListRequestsRespectsLimitQueryParam(t *testing.T) {
	svc := newTestService(t)
	engine := newTestRouter(svc)

	for i := 0; i < 3; i++ {
		svc.RecordRequest(RequestDetails{RequestID: string(rune('a' + i))}, 0, true)
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/requests?limit=2", nil))

	var body struct {
		Requests []RequestDetails `json:"requests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Requests) != 2 {
		t.Fatalf("expected limit=2 to cap results, got %d", len(body.Requests))
	}
}

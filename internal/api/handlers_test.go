package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pikecode/licpanel/internal/auth"
	"github.com/pikecode/licpanel/pkg/types"
)

type fakeEngine struct {
	pending []types.RequestRecord

	approvedCode  string
	approvedHours int
	rejectedCode  string
	rejectReason  string
	failMessage   string
}

func (f *fakeEngine) ListPending(ctx context.Context) []types.RequestRecord { return f.pending }

func (f *fakeEngine) Resync(ctx context.Context) ([]types.RequestRecord, int) {
	return f.pending, 7
}

func (f *fakeEngine) Approve(ctx context.Context, machineCode string, expireHours int) (string, error) {
	if f.failMessage != "" {
		return "", &fakeFailure{f.failMessage}
	}
	f.approvedCode = machineCode
	f.approvedHours = expireHours
	return "request approved", nil
}

func (f *fakeEngine) Reject(ctx context.Context, machineCode string, reason string) (string, error) {
	if f.failMessage != "" {
		return "", &fakeFailure{f.failMessage}
	}
	f.rejectedCode = machineCode
	f.rejectReason = reason
	return "request rejected", nil
}

func (f *fakeEngine) ProcessedCount() int { return 7 }

func (f *fakeEngine) ProcessedSample(n int) []string { return []string{"requests/a.json"} }

func (f *fakeEngine) ProbeRequests(ctx context.Context) (int, error) { return len(f.pending), nil }

type fakeFailure struct{ msg string }

func (e *fakeFailure) Error() string { return e.msg }

func newTestRouter(engine *fakeEngine, authn auth.Authenticator) http.Handler {
	if authn == nil {
		authn = &auth.PanelAuthenticator{}
	}
	h := NewHandler(authn, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewRouter(h)
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestRequestsReturnsPending(t *testing.T) {
	engine := &fakeEngine{pending: []types.RequestRecord{
		{MachineCode: "m1", Status: types.StatusPending, RequestTime: "2024-05-10 10:00:00"},
	}}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected 1 request, got %d", len(data))
	}
}

func TestRequestsEmptyListIsArrayNotNull(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if !strings.Contains(res.Body.String(), `"data":[]`) {
		t.Fatalf("expected empty array, got %s", res.Body.String())
	}
}

func TestSyncEnvelope(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	body := decodeBody(t, res)
	if body["success"] != true || body["processed_count"] != float64(7) {
		t.Fatalf("unexpected sync envelope: %v", body)
	}
}

func TestApproveValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"missing machine code", `{}`, "device identifier required"},
		{"empty machine code", `{"machine_code":""}`, "device identifier required"},
		{"zero expiry", `{"machine_code":"m1","expire_hours":0}`, "invalid expiry"},
		{"negative expiry", `{"machine_code":"m1","expire_hours":-5}`, "invalid expiry"},
		{"non-numeric expiry", `{"machine_code":"m1","expire_hours":"soon"}`, "invalid request body"},
		{"not json", `nope`, "invalid request body"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeEngine{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/approve", strings.NewReader(tc.payload))
			res := httptest.NewRecorder()
			router.ServeHTTP(res, req)

			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", res.Code)
			}
			body := decodeBody(t, res)
			if body["error"] != tc.wantErr {
				t.Fatalf("expected error %q, got %v", tc.wantErr, body["error"])
			}
		})
	}
}

func TestApproveDefaultsExpireHours(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/approve", strings.NewReader(`{"machine_code":"m1"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if engine.approvedCode != "m1" || engine.approvedHours != 720 {
		t.Fatalf("unexpected approve call: code=%s hours=%d", engine.approvedCode, engine.approvedHours)
	}
}

func TestApproveExplicitHours(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/approve", strings.NewReader(`{"machine_code":"m1","expire_hours":168}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if engine.approvedHours != 168 {
		t.Fatalf("expected 168 hours, got %d", engine.approvedHours)
	}
}

func TestApproveEngineFailure(t *testing.T) {
	engine := &fakeEngine{failMessage: "write approval response: store down"}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/approve", strings.NewReader(`{"machine_code":"m1"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["success"] != false {
		t.Fatalf("expected failure envelope, got %v", body)
	}
}

func TestRejectDefaultsReason(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reject", strings.NewReader(`{"machine_code":"m1"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if engine.rejectReason != "request rejected" {
		t.Fatalf("expected default reason, got %q", engine.rejectReason)
	}
}

func TestRejectCustomReason(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reject", strings.NewReader(`{"machine_code":"m1","reason":"bad signature"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if engine.rejectReason != "bad signature" {
		t.Fatalf("expected custom reason, got %q", engine.rejectReason)
	}
}

func TestEndpointsRequireAuthWhenConfigured(t *testing.T) {
	authn := &auth.PanelAuthenticator{OperatorToken: "secret"}
	router := newTestRouter(&fakeEngine{}, authn)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/requests"},
		{http.MethodPost, "/api/sync"},
		{http.MethodPost, "/api/approve"},
		{http.MethodPost, "/api/reject"},
		{http.MethodGet, "/api/debug"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s %s, got %d", p.method, p.path, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	req.Header.Set("Authorization", "Bearer secret")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", res.Code)
	}
}

func TestDebugEnvelope(t *testing.T) {
	engine := &fakeEngine{pending: []types.RequestRecord{{MachineCode: "m1"}}}
	h := NewHandler(&auth.PanelAuthenticator{}, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Store = StoreSummary{Repo: "owner/licenses", APIBase: "https://gitee.com/api/v5", TokenLength: 32}
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/debug", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	body := decodeBody(t, res)
	info := body["debug_info"].(map[string]any)
	store := info["store"].(map[string]any)
	if store["token_length"] != float64(32) {
		t.Fatalf("unexpected store summary: %v", store)
	}
	if _, ok := store["token"]; ok {
		t.Fatalf("debug must never expose the token")
	}
	folder := info["requests_folder"].(map[string]any)
	if folder["status"] != "accessible" || folder["file_count"] != float64(1) {
		t.Fatalf("unexpected folder probe: %v", folder)
	}
}

func TestIndexAndManifest(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "/api/requests") {
		t.Fatalf("index page not served: %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/manifest.json", nil)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"standalone"`) {
		t.Fatalf("manifest not served: %d", res.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/approve", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

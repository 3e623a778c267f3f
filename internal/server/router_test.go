package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sky-audit/skyaudit/internal/allowlist"
	"github.com/sky-audit/skyaudit/internal/analyzer"
	"github.com/sky-audit/skyaudit/internal/server"
)

const (
	progressPollTimeout = 5 * time.Second
	progressPollDelay   = 10 * time.Millisecond
)

type stubAnalysisService struct {
	results    []analyzer.AnalysisResult
	analyzeErr error
	signOuts   int
}

func (stub *stubAnalysisService) AnalyzeFollowers(_ context.Context, _ string, onProgress analyzer.ProgressFunc) ([]analyzer.AnalysisResult, error) {
	if stub.analyzeErr != nil {
		return nil, stub.analyzeErr
	}
	if onProgress != nil {
		onProgress(analyzer.Progress{Total: len(stub.results), Current: 0, Status: "Starting analysis...", BlockedCount: 1})
		onProgress(analyzer.Progress{Total: len(stub.results), Current: len(stub.results), Status: "Analysis complete!", BlockedCount: 1})
	}
	return stub.results, nil
}

func (stub *stubAnalysisService) BlockAccounts(_ context.Context, targetDIDs []string, _ analyzer.BlockProgressFunc) ([]analyzer.BlockResult, error) {
	results := make([]analyzer.BlockResult, 0, len(targetDIDs))
	for _, targetDID := range targetDIDs {
		results = append(results, analyzer.BlockResult{DID: targetDID, Success: true})
	}
	return results, nil
}

func (stub *stubAnalysisService) SignOut(context.Context) error {
	stub.signOuts++
	return nil
}

func newTestStore(t *testing.T) *allowlist.Store {
	t.Helper()
	db, err := allowlist.Open(filepath.Join(t.TempDir(), "allowlist_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := allowlist.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestRouter(t *testing.T, service server.AnalysisService, store *allowlist.Store) http.Handler {
	t.Helper()
	router, err := server.NewRouter(server.RouterConfig{Service: service, AllowList: store})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	return router
}

func performJSON(t *testing.T, router http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, nil)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestAnalysisTaskLifecycle(t *testing.T) {
	service := &stubAnalysisService{results: []analyzer.AnalysisResult{
		{DID: "did:plc:a", Handle: "alice.example", Issues: []string{"No posts"}, HasIssues: true},
		{DID: "did:plc:b", Handle: "bob.example", Issues: []string{}},
	}}
	router := newTestRouter(t, service, newTestStore(t))

	recorder := performJSON(t, router, http.MethodPost, "/api/analyze", `{"actorDID":"did:plc:viewer"}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", recorder.Code, http.StatusAccepted)
	}
	var startResponse struct {
		TaskID string `json:"taskID"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &startResponse); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if startResponse.TaskID == "" {
		t.Fatalf("start response carries no task identifier")
	}

	deadline := time.Now().Add(progressPollTimeout)
	var progress struct {
		Status       string `json:"status"`
		Total        int    `json:"total"`
		Current      int    `json:"current"`
		BlockedCount int    `json:"blockedCount"`
	}
	for {
		recorder = performJSON(t, router, http.MethodGet, "/api/analyze/"+startResponse.TaskID, "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("progress status = %d, want %d", recorder.Code, http.StatusOK)
		}
		if err := json.Unmarshal(recorder.Body.Bytes(), &progress); err != nil {
			t.Fatalf("decode progress response: %v", err)
		}
		if progress.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete in time, last progress: %+v", progress)
		}
		time.Sleep(progressPollDelay)
	}
	if progress.Current != progress.Total {
		t.Fatalf("terminal progress current = %d, total = %d", progress.Current, progress.Total)
	}

	recorder = performJSON(t, router, http.MethodGet, "/api/analyze/"+startResponse.TaskID+"/results", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("results status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var results []analyzer.AnalysisResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 || results[0].DID != "did:plc:a" {
		t.Fatalf("unexpected results payload: %+v", results)
	}

	recorder = performJSON(t, router, http.MethodGet, "/api/analyze/"+startResponse.TaskID+"/export", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("export status = %d, want %d", recorder.Code, http.StatusOK)
	}
	exportBody := recorder.Body.String()
	if !strings.HasPrefix(exportBody, "Handle,Display Name,Issues,Last Post") {
		t.Fatalf("unexpected export header: %q", exportBody)
	}
	if !strings.Contains(exportBody, "alice.example") {
		t.Fatalf("export missing analyzed account: %q", exportBody)
	}
}

func TestFailedAnalysisTaskReportsError(t *testing.T) {
	service := &stubAnalysisService{analyzeErr: errors.New("listing unavailable")}
	router := newTestRouter(t, service, newTestStore(t))

	recorder := performJSON(t, router, http.MethodPost, "/api/analyze", `{"actorDID":"did:plc:viewer"}`)
	var startResponse struct {
		TaskID string `json:"taskID"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &startResponse); err != nil {
		t.Fatalf("decode start response: %v", err)
	}

	deadline := time.Now().Add(progressPollTimeout)
	for {
		recorder = performJSON(t, router, http.MethodGet, "/api/analyze/"+startResponse.TaskID, "")
		var progress struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(recorder.Body.Bytes(), &progress); err != nil {
			t.Fatalf("decode progress response: %v", err)
		}
		if progress.Status == "failed" {
			if progress.Error == "" {
				t.Fatalf("failed task carries no error message")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not fail in time")
		}
		time.Sleep(progressPollDelay)
	}

	recorder = performJSON(t, router, http.MethodGet, "/api/analyze/"+startResponse.TaskID+"/results", "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("results status = %d, want %d", recorder.Code, http.StatusConflict)
	}
}

func TestUnknownTaskReturnsNotFound(t *testing.T) {
	router := newTestRouter(t, &stubAnalysisService{}, newTestStore(t))
	recorder := performJSON(t, router, http.MethodGet, "/api/analyze/task-999", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestAllowListEndpoints(t *testing.T) {
	store := newTestStore(t)
	router := newTestRouter(t, &stubAnalysisService{}, store)

	recorder := performJSON(t, router, http.MethodPost, "/api/allowlist/whitelist", `{"did":"did:plc:a","handle":"alice.example"}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("whitelist add status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
	recorder = performJSON(t, router, http.MethodPost, "/api/allowlist/greylist", `{"did":"did:plc:b","handle":"bob.example"}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("greylist add status = %d, want %d", recorder.Code, http.StatusNoContent)
	}

	recorder = performJSON(t, router, http.MethodGet, "/api/allowlist", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var listing struct {
		Whitelist []allowlist.Entry `json:"whitelist"`
		Greylist  []allowlist.Entry `json:"greylist"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Whitelist) != 1 || listing.Whitelist[0].DID != "did:plc:a" {
		t.Fatalf("unexpected whitelist: %+v", listing.Whitelist)
	}
	if len(listing.Greylist) != 1 || listing.Greylist[0].DID != "did:plc:b" {
		t.Fatalf("unexpected greylist: %+v", listing.Greylist)
	}

	recorder = performJSON(t, router, http.MethodDelete, "/api/allowlist/did:plc:a", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
	whitelisted, err := store.IsWhitelisted(context.Background(), "did:plc:a")
	if err != nil {
		t.Fatalf("is whitelisted: %v", err)
	}
	if whitelisted {
		t.Fatalf("entry survived delete")
	}

	recorder = performJSON(t, router, http.MethodPost, "/api/allowlist/whitelist", `{"handle":"missing-did.example"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid mutation status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestBlockAndSignOutEndpoints(t *testing.T) {
	service := &stubAnalysisService{}
	router := newTestRouter(t, service, newTestStore(t))

	recorder := performJSON(t, router, http.MethodPost, "/api/block", `{"dids":["did:plc:a","did:plc:b"]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("block status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var blockResults []analyzer.BlockResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &blockResults); err != nil {
		t.Fatalf("decode block results: %v", err)
	}
	if len(blockResults) != 2 || !blockResults[0].Success {
		t.Fatalf("unexpected block results: %+v", blockResults)
	}

	recorder = performJSON(t, router, http.MethodPost, "/api/signout", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("sign out status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
	if service.signOuts != 1 {
		t.Fatalf("sign out calls = %d, want 1", service.signOuts)
	}
}

func TestAccessCheckUnavailableWithoutGate(t *testing.T) {
	router := newTestRouter(t, &stubAnalysisService{}, newTestStore(t))
	recorder := performJSON(t, router, http.MethodPost, "/api/access-check", `{"handle":"alice.example"}`)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubAnalysisService{}, newTestStore(t))
	recorder := performJSON(t, router, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if !strings.Contains(recorder.Body.String(), "ok") {
		t.Fatalf("unexpected health payload: %q", recorder.Body.String())
	}
}

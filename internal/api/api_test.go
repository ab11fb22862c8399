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
	"strings"
	"testing"
	"time"

	"github.com/opensource-retail/harrier/internal/analysis"
	"github.com/opensource-retail/harrier/internal/cache"
	"github.com/opensource-retail/harrier/internal/domain"
	"github.com/opensource-retail/harrier/internal/ingest"
	"github.com/opensource-retail/harrier/internal/repository"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheImpl, err := cache.New(domain.CacheConfig{
		Type:         "memory",
		LocalMaxSize: 100,
		LocalTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cacheImpl.Close() })

	cfg := domain.DefaultConfig()
	ingestSvc := ingest.NewService(repo, cacheImpl, nil)
	runner, err := analysis.NewRunner(repo, cacheImpl, nil, cfg.Analysis)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	return NewServer(cfg, repo, cacheImpl, ingestSvc, runner, "test")
}

// testCSV holds one serial returner and five quiet shoppers, all dated
// relative to the current time so the analysis window covers them.
func testCSV() string {
	now := time.Now().UTC()
	day := func(daysAgo int) string {
		return now.AddDate(0, 0, -daysAgo).Format("2006-01-02T15:00:00Z")
	}

	var b strings.Builder
	b.WriteString("amazon-order-id,buyer-name,sku,item-price,purchase-date,return-date\n")
	for n := 0; n < 3; n++ {
		fmt.Fprintf(&b, "ORD-A-%d,Abuser,SKU-A-%d,100.00,%s,%s\n", n, n, day(30-n), day(30-n-1))
	}
	for u := 0; u < 5; u++ {
		for n := 0; n < 2; n++ {
			fmt.Fprintf(&b, "ORD-Q%d-%d,Quiet%d,SKU-Q%d-%d,50.00,%s,\n", u, n, u, u, n, day(20-n))
		}
	}
	return b.String()
}

func uploadCSV(t *testing.T, srv *Server, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-csv", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, srv *Server, path string, out any) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
	}
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	w := getJSON(t, srv, "/health", &health)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("unexpected health payload: %v", health)
	}

	w = getJSON(t, srv, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", w.Code)
	}
}

func TestUploadCSVValidation(t *testing.T) {
	srv := newTestServer(t)

	t.Run("WrongExtension", func(t *testing.T) {
		w := uploadCSV(t, srv, "data.xlsx", "a,b\n1,2\n")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-CSV, got %d", w.Code)
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		w := uploadCSV(t, srv, "data.csv", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty file, got %d", w.Code)
		}
	})

	t.Run("MissingFileField", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload-csv", strings.NewReader("plain"))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for missing field, got %d", w.Code)
		}
	})
}

func TestUploadCSVSuccess(t *testing.T) {
	srv := newTestServer(t)

	w := uploadCSV(t, srv, "orders.csv", testCSV())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Message string             `json:"message"`
		Stats   domain.IngestStats `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Message != "CSV processed successfully" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.Stats.Users != 6 {
		t.Errorf("expected 6 users, got %d", resp.Stats.Users)
	}
	if resp.Stats.Transactions != 13 {
		t.Errorf("expected 13 transactions, got %d", resp.Stats.Transactions)
	}
	if resp.Stats.Returns != 3 {
		t.Errorf("expected 3 returns, got %d", resp.Stats.Returns)
	}
}

func TestRunAnalysisWithoutData(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/run-analysis", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 with empty store, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "upload CSV data first") {
		t.Errorf("unexpected error body: %s", w.Body.String())
	}
}

func TestFullPipeline(t *testing.T) {
	srv := newTestServer(t)

	if w := uploadCSV(t, srv, "orders.csv", testCSV()); w.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/run-analysis", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("run-analysis failed: %d %s", w.Code, w.Body.String())
	}

	var result analysis.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.UsersAnalyzed != 6 {
		t.Errorf("expected 6 users analyzed, got %d", result.UsersAnalyzed)
	}
	if result.AlertsCreated != 1 {
		t.Errorf("expected 1 alert, got %d", result.AlertsCreated)
	}

	t.Run("FraudUsersRankedByRisk", func(t *testing.T) {
		var resp struct {
			FraudUsers []*domain.BehaviorScore `json:"fraudUsers"`
			Count      int                     `json:"count"`
		}
		if w := getJSON(t, srv, "/fraud-users", &resp); w.Code != http.StatusOK {
			t.Fatalf("fraud-users failed: %d", w.Code)
		}
		if resp.Count != 6 {
			t.Fatalf("expected 6 scores, got %d", resp.Count)
		}
		top := resp.FraudUsers[0]
		if top.OverallRiskScore < 60 {
			t.Errorf("expected the abuser ranked first, got score %v", top.OverallRiskScore)
		}
		if !strings.Contains(top.Reasoning, "Serial Returner") {
			t.Errorf("unexpected top reasoning %q", top.Reasoning)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		var resp struct {
			Alerts []*domain.FraudAlert `json:"alerts"`
			Count  int                  `json:"count"`
		}
		if w := getJSON(t, srv, "/alerts", &resp); w.Code != http.StatusOK {
			t.Fatalf("alerts failed: %d", w.Code)
		}
		if resp.Count != 1 {
			t.Fatalf("expected 1 alert, got %d", resp.Count)
		}
		if resp.Alerts[0].Status != domain.AlertActive {
			t.Errorf("expected Active alert, got %s", resp.Alerts[0].Status)
		}
	})

	t.Run("UserDetail", func(t *testing.T) {
		var resp struct {
			Alerts []*domain.FraudAlert `json:"alerts"`
		}
		if w := getJSON(t, srv, "/alerts", &resp); w.Code != http.StatusOK {
			t.Fatalf("alerts failed: %d", w.Code)
		}
		userID := resp.Alerts[0].UserID

		var detail UserDetailResponse
		if w := getJSON(t, srv, fmt.Sprintf("/users/%d", userID), &detail); w.Code != http.StatusOK {
			t.Fatalf("user detail failed: %d", w.Code)
		}
		if detail.Name != "Abuser" {
			t.Errorf("expected Abuser, got %s", detail.Name)
		}
		if detail.BehaviorScore == nil {
			t.Fatal("expected a behavior score")
		}
		if len(detail.FraudAlerts) != 1 {
			t.Errorf("expected 1 alert in detail, got %d", len(detail.FraudAlerts))
		}
	})

	t.Run("UserNotFound", func(t *testing.T) {
		if w := getJSON(t, srv, "/users/999999999", nil); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("UserBadID", func(t *testing.T) {
		if w := getJSON(t, srv, "/users/abc", nil); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("Transactions", func(t *testing.T) {
		var resp struct {
			Transactions []*domain.Transaction `json:"transactions"`
			Count        int                   `json:"count"`
		}
		if w := getJSON(t, srv, "/transactions", &resp); w.Code != http.StatusOK {
			t.Fatalf("transactions failed: %d", w.Code)
		}
		if resp.Count != 13 {
			t.Errorf("expected 13 transactions, got %d", resp.Count)
		}
	})

	t.Run("TransactionsPaging", func(t *testing.T) {
		var resp struct {
			Count int `json:"count"`
		}
		if w := getJSON(t, srv, "/transactions?skip=10&limit=5", &resp); w.Code != http.StatusOK {
			t.Fatalf("transactions failed: %d", w.Code)
		}
		if resp.Count != 3 {
			t.Errorf("expected 3 remaining transactions, got %d", resp.Count)
		}
	})

	t.Run("AnalyticsSummary", func(t *testing.T) {
		var summary AnalyticsSummary
		if w := getJSON(t, srv, "/analytics-summary", &summary); w.Code != http.StatusOK {
			t.Fatalf("analytics-summary failed: %d", w.Code)
		}
		if summary.TotalTxns != 13 {
			t.Errorf("expected 13 transactions, got %d", summary.TotalTxns)
		}
		if summary.GrossVolume != 800 {
			t.Errorf("expected gross volume 800, got %v", summary.GrossVolume)
		}
		// All refunds belong to the flagged abuser.
		if summary.CapitalSaved != 300 {
			t.Errorf("expected capital saved 300, got %v", summary.CapitalSaved)
		}
		if summary.CatchRate != 100 {
			t.Errorf("expected catch rate 100, got %v", summary.CatchRate)
		}
		if len(summary.RevenueTimeseries.Prevented) != 7 {
			t.Errorf("expected 7 series points, got %d", len(summary.RevenueTimeseries.Prevented))
		}
	})
}

func TestDashboardResponsesAreCached(t *testing.T) {
	srv := newTestServer(t)

	if w := uploadCSV(t, srv, "orders.csv", testCSV()); w.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/run-analysis", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("run-analysis failed: %d", w.Code)
	}

	getJSON(t, srv, "/fraud-users", nil)
	getJSON(t, srv, "/alerts", nil)
	getJSON(t, srv, "/analytics-summary", nil)

	h := srv.Handler()
	for _, key := range []string{domain.CacheKeyFraudUsers, domain.CacheKeyAlerts, domain.CacheKeySummary} {
		data, err := h.cache.Get(context.Background(), key)
		if err != nil || data == nil {
			t.Errorf("expected %s cached after read, got data=%v err=%v", key, data, err)
		}
	}

	// Non-default limits bypass the cache entirely.
	if err := h.cache.Delete(context.Background(), domain.CacheKeyFraudUsers); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	getJSON(t, srv, "/fraud-users?limit=2", nil)
	data, _ := h.cache.Get(context.Background(), domain.CacheKeyFraudUsers)
	if data != nil {
		t.Error("limited listing must not populate the shared cache key")
	}
}

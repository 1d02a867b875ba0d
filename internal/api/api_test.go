package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// createTestServer builds a server around an in-memory pipeline with no
// repository, cache, or bus. The scaler is fitted on synthetic vectors.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Server.Host = "localhost"

	engineer := testEngineer(t)

	ae, err := model.NewAutoencoder(feature.Dim, 0, 42)
	if err != nil {
		t.Fatalf("NewAutoencoder failed: %v", err)
	}

	classifier := risk.NewClassifier(cfg.Scoring)
	monitor := drift.NewMonitor(cfg.Drift)
	orch := scoring.NewOrchestrator(engineer, ae, classifier, monitor)

	checks, err := compliance.NewEngine(cfg.Compliance, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	pipeline := scoring.NewPipeline(orch, checks, nil, nil, nil, 0)

	return NewServer(cfg, pipeline, nil, nil, nil, "test-v1")
}

func testEngineer(t *testing.T) *feature.Engineer {
	t.Helper()

	plain := feature.NewEngineer()
	matrix := make([][]float64, 0, 32)
	for i := 0; i < 32; i++ {
		tx := &domain.Transaction{
			ID:               "fit-tx",
			Amount:           float64(20 + i*13),
			Currency:         "USD",
			MerchantCategory: "grocery",
			Channel:          "pos",
			CustomerID:       "cust-fit",
			GeoCountry:       "US",
		}
		matrix = append(matrix, plain.BuildFeatures(tx, nil))
	}

	scaler := feature.NewScaler()
	if err := scaler.Fit(matrix); err != nil {
		t.Fatalf("scaler fit failed: %v", err)
	}
	return feature.NewEngineerWithScaler(scaler)
}

func scoreRequestBody() []byte {
	body, _ := json.Marshal(domain.ScoreRequest{
		Amount:           1000.50,
		Currency:         "USD",
		MerchantID:       "merch-001",
		MerchantCategory: "grocery",
		Channel:          "online",
		CustomerID:       "cust-001",
		AccountID:        "acc-001",
		GeoCountry:       "US",
	})
	return body
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScore", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreRequestBody()))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Score == nil {
			t.Fatal("expected score in response")
		}
		if resp.Score.ID == "" {
			t.Error("expected score id")
		}
		if resp.Score.TxID == "" {
			t.Error("expected txId")
		}
		if resp.Score.AnomalyScore < 0 || resp.Score.AnomalyScore > 1 {
			t.Errorf("anomaly score out of range: %f", resp.Score.AnomalyScore)
		}
		if resp.Score.RiskLevel == "" {
			t.Error("expected risk level")
		}
		if resp.Score.Decision == "" {
			t.Error("expected decision")
		}
		if len(resp.Score.FeatureContributions) != feature.Dim {
			t.Errorf("expected %d feature contributions, got %d", feature.Dim, len(resp.Score.FeatureContributions))
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingCustomerID", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			Amount:   100,
			Currency: "USD",
		})
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			Amount:     -100,
			Currency:   "USD",
			CustomerID: "cust-001",
		})
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreRequestBody()))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestComplianceEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("CleanTransaction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/compliance", bytes.NewBuffer(scoreRequestBody()))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var report domain.ComplianceReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse report: %v", err)
		}

		if !report.Passed {
			t.Errorf("expected clean transaction to pass, reasons: %v", report.Reasons)
		}
		if len(report.Checks) < 4 {
			t.Errorf("expected at least 4 checks, got %d", len(report.Checks))
		}
	})

	t.Run("RestrictedMerchant", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			Amount:           500,
			Currency:         "USD",
			MerchantCategory: "gambling",
			CustomerID:       "cust-002",
		})
		req := httptest.NewRequest(http.MethodPost, "/compliance", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var report domain.ComplianceReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse report: %v", err)
		}

		if report.Passed {
			t.Error("expected restricted merchant category to fail")
		}
	})
}

func TestDriftEndpoint(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/drift", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var snapshot domain.DriftSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to parse snapshot: %v", err)
	}

	if snapshot.Status != domain.DriftStatusInsufficientData {
		t.Errorf("expected insufficient_data with no scores, got %s", snapshot.Status)
	}
}

func TestModelReloadEndpoint(t *testing.T) {
	server := createTestServer(t)

	// Point the config at freshly saved artifacts
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "autoencoder.json")
	scalerPath := filepath.Join(dir, "scaler.json")

	engineer := testEngineer(t)
	if err := engineer.Scaler().Save(scalerPath); err != nil {
		t.Fatalf("scaler save failed: %v", err)
	}

	ae, err := model.NewAutoencoder(feature.Dim, 0, 7)
	if err != nil {
		t.Fatalf("NewAutoencoder failed: %v", err)
	}
	if err := ae.Save(modelPath); err != nil {
		t.Fatalf("model save failed: %v", err)
	}

	server.Handler().config.Artifacts.ModelPath = modelPath
	server.Handler().config.Artifacts.ScalerPath = scalerPath

	req := httptest.NewRequest(http.MethodPost, "/model/reload", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Scoring still works against the reloaded artifacts
	scoreReq := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreRequestBody()))
	scoreReq.Header.Set("Content-Type", "application/json")
	scoreRR := httptest.NewRecorder()
	server.Router().ServeHTTP(scoreRR, scoreReq)

	if scoreRR.Code != http.StatusOK {
		t.Errorf("expected scoring to work after reload, got %d", scoreRR.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestIngestWithoutBus(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBuffer(scoreRequestBody()))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 without a bus, got %d", rr.Code)
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

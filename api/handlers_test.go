package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/core/cache"
	"github.com/synapselabs/partnermatch/core/ranking"
	"github.com/synapselabs/partnermatch/persistence"
)

const testView = "company_features"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	persist := persistence.NewMemoryPersistence()
	serving := cache.NewMemoryCache(time.Minute, 1000)
	store := core.NewFeatureStore(persist, serving, core.FeatureStoreOptions{})
	t.Cleanup(func() { store.Close() })

	if _, err := store.CreateFeatureView(ctx, testView, 3); err != nil {
		t.Fatalf("create view: %v", err)
	}
	registry, err := core.NewModelRegistry(ctx, persist)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	if _, err := registry.Register(ctx, "v1", 3); err != nil {
		t.Fatalf("register model: %v", err)
	}
	if _, err := registry.Activate(ctx, "v1"); err != nil {
		t.Fatalf("activate model: %v", err)
	}

	engine := ranking.NewEngine(store, serving, registry, ranking.Config{FeatureView: testView}, nil)
	health := core.NewHealthReporter(store, registry, testView)

	return NewServer(engine, store, registry, health, nil, DefaultServerConfig())
}

func seedCompanies(t *testing.T, server *Server, ids ...string) {
	t.Helper()
	records := make([]core.FeatureRecord, 0, len(ids))
	for i, id := range ids {
		vec := []float64{1, 0, 0}
		if i%2 == 1 {
			vec = []float64{0, 1, 0}
		}
		records = append(records, core.FeatureRecord{
			CompanyID:        id,
			UserOverlapScore: 0.5,
			Traction: core.TractionMetrics{
				FundingAmount:   1_000_000,
				EmployeeCount:   30,
				GrowthRate:      10,
				MarketSentiment: 0.2,
			},
			CultureVector: vec,
			Timestamp:     time.Now(),
		})
	}

	body, _ := json.Marshal(WriteFeaturesRequest{Records: records})
	rr := doRequest(server, "POST", fmt.Sprintf("/views/%s/features", testView), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("seed write returned %d: %s", rr.Code, rr.Body.String())
	}
}

func doRequest(server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewBuffer(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	rr := doRequest(server, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health returned %d", rr.Code)
	}

	var status core.HealthStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if status.Status != core.StatusOK {
		t.Errorf("status = %q, want %q", status.Status, core.StatusOK)
	}
	if status.ActiveModelVersion != "v1" {
		t.Errorf("active model = %q, want v1", status.ActiveModelVersion)
	}
}

func TestWriteAndReadFeatures(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "acme", "globex")

	body, _ := json.Marshal(OnlineFeaturesRequest{CompanyIDs: []string{"acme", "ghost"}})
	rr := doRequest(server, "POST", fmt.Sprintf("/views/%s/features/online", testView), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("online read returned %d: %s", rr.Code, rr.Body.String())
	}

	var result core.OnlineResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(result.Found) != 1 || result.Found[0].CompanyID != "acme" {
		t.Errorf("unexpected found set: %+v", result.Found)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "ghost" {
		t.Errorf("unexpected missing set: %v", result.Missing)
	}
}

func TestWriteFeaturesPartialRejection(t *testing.T) {
	server := newTestServer(t)

	records := []core.FeatureRecord{
		{
			CompanyID:     "acme",
			CultureVector: []float64{1, 0, 0},
			Timestamp:     time.Now(),
		},
		{
			// Missing company id, rejected per record.
			CultureVector: []float64{1, 0, 0},
			Timestamp:     time.Now(),
		},
	}
	body, _ := json.Marshal(WriteFeaturesRequest{Records: records})
	rr := doRequest(server, "POST", fmt.Sprintf("/views/%s/features", testView), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("write returned %d: %s", rr.Code, rr.Body.String())
	}

	var result core.WriteResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result.Accepted != 1 || len(result.Rejected) != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", result.Accepted, len(result.Rejected))
	}
	if result.Rejected[0].Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestWriteFeaturesUnknownView(t *testing.T) {
	server := newTestServer(t)

	body, _ := json.Marshal(WriteFeaturesRequest{Records: []core.FeatureRecord{{
		CompanyID: "acme",
		Timestamp: time.Now(),
	}}})
	rr := doRequest(server, "POST", "/views/unknown/features", body)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown view returned %d, want 404", rr.Code)
	}
}

func TestRecommendEndpoint(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "query", "partner-a", "partner-b")

	body, _ := json.Marshal(ranking.Request{CompanyID: "query", TopK: 5})
	rr := doRequest(server, "POST", "/recommend", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("recommend returned %d: %s", rr.Code, rr.Body.String())
	}

	var rec ranking.Recommendation
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(rec.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(rec.Results))
	}
	if rec.ModelVersion != "v1" {
		t.Errorf("model version = %q, want v1", rec.ModelVersion)
	}
	for _, r := range rec.Results {
		if r.CandidateID == "query" {
			t.Error("query company must not be recommended to itself")
		}
	}
}

func TestRecommendUnknownCompany(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "someone")

	body, _ := json.Marshal(ranking.Request{CompanyID: "ghost"})
	rr := doRequest(server, "POST", "/recommend", body)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown company returned %d, want 404", rr.Code)
	}
}

func TestBatchRecommendEndpoint(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "a", "b", "c")

	body, _ := json.Marshal(BatchRecommendRequest{CompanyIDs: []string{"a", "ghost"}, TopK: 3})
	rr := doRequest(server, "POST", "/recommend/batch", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("batch recommend returned %d: %s", rr.Code, rr.Body.String())
	}

	var resp BatchRecommendResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if _, ok := resp.Results["a"]; !ok {
		t.Error("expected a result for company a")
	}
	if _, ok := resp.Failures["ghost"]; !ok {
		t.Error("expected a failure entry for ghost")
	}
}

func TestExplainEndpoint(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "query", "partner")

	rr := doRequest(server, "GET", "/explain/query/partner?top_features=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("explain returned %d: %s", rr.Code, rr.Body.String())
	}

	var expl ranking.Explanation
	if err := json.Unmarshal(rr.Body.Bytes(), &expl); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if expl.QueryCompany != "query" || expl.CandidateID != "partner" {
		t.Errorf("unexpected pair: %s/%s", expl.QueryCompany, expl.CandidateID)
	}
	if len(expl.Factors) != 2 {
		t.Errorf("got %d factors, want 2", len(expl.Factors))
	}

	rr = doRequest(server, "GET", "/explain/query/partner?top_features=bogus", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus top_features returned %d, want 400", rr.Code)
	}
}

func TestModelEndpoints(t *testing.T) {
	server := newTestServer(t)

	// Stage a new version.
	body, _ := json.Marshal(RegisterModelRequest{VersionID: "v2", EmbeddingDim: 3})
	rr := doRequest(server, "POST", "/model/versions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rr.Code, rr.Body.String())
	}

	// Duplicate registration conflicts with the client's view of the world.
	rr = doRequest(server, "POST", "/model/versions", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate register returned %d, want 400", rr.Code)
	}

	// Activate it.
	body, _ = json.Marshal(ActivateModelRequest{VersionID: "v2"})
	rr = doRequest(server, "POST", "/model/activate", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("activate returned %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, "GET", "/model/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status returned %d", rr.Code)
	}
	var active core.ModelVersion
	if err := json.Unmarshal(rr.Body.Bytes(), &active); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if active.VersionID != "v2" {
		t.Errorf("active version = %q, want v2", active.VersionID)
	}

	// A version whose dimension disagrees with the view cannot activate.
	body, _ = json.Marshal(RegisterModelRequest{VersionID: "v3", EmbeddingDim: 7})
	if rr := doRequest(server, "POST", "/model/versions", body); rr.Code != http.StatusCreated {
		t.Fatalf("register v3 returned %d", rr.Code)
	}
	body, _ = json.Marshal(ActivateModelRequest{VersionID: "v3"})
	rr = doRequest(server, "POST", "/model/activate", body)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("mismatched activate returned %d, want 500", rr.Code)
	}

	// The previous version still serves.
	rr = doRequest(server, "GET", "/model/status", nil)
	json.Unmarshal(rr.Body.Bytes(), &active)
	if active.VersionID != "v2" {
		t.Errorf("active version after failed swap = %q, want v2", active.VersionID)
	}
}

func TestViewEndpoints(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "acme", "globex")

	rr := doRequest(server, "GET", fmt.Sprintf("/views/%s/stats", testView), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rr.Code)
	}
	var stats core.FeatureStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if stats.TotalCompanies != 2 {
		t.Errorf("stats.TotalCompanies = %d, want 2", stats.TotalCompanies)
	}

	rr = doRequest(server, "GET", fmt.Sprintf("/views/%s/companies", testView), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("companies returned %d", rr.Code)
	}

	// Creating a view that exists is a client error.
	body, _ := json.Marshal(CreateViewRequest{Name: testView, Dimension: 3})
	rr = doRequest(server, "POST", "/views", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate view returned %d, want 400", rr.Code)
	}
}

func TestHistoricalFeaturesEndpoint(t *testing.T) {
	server := newTestServer(t)
	seedCompanies(t, server, "acme")

	now := time.Now()
	body, _ := json.Marshal(HistoricalFeaturesRequest{
		CompanyIDs: []string{"acme"},
		Start:      now.Add(-time.Hour),
		End:        now.Add(time.Hour),
	})
	rr := doRequest(server, "POST", fmt.Sprintf("/views/%s/features/history", testView), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Records []core.FeatureRecord `json:"records"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Errorf("got %d records, want 1", len(resp.Records))
	}

	// Inverted ranges are rejected.
	body, _ = json.Marshal(HistoricalFeaturesRequest{
		CompanyIDs: []string{"acme"},
		Start:      now,
		End:        now.Add(-time.Hour),
	})
	rr = doRequest(server, "POST", fmt.Sprintf("/views/%s/features/history", testView), body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("inverted range returned %d, want 400", rr.Code)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/core/ranking"
)

// BatchRecommendRequest asks for recommendations for several companies.
type BatchRecommendRequest struct {
	CompanyIDs []string `json:"company_ids"`
	TopK       int      `json:"top_k,omitempty"`
}

// BatchRecommendResponse pairs per-company results with per-company failures.
type BatchRecommendResponse struct {
	Results  map[string]ranking.Recommendation `json:"results"`
	Failures map[string]string                 `json:"failures,omitempty"`
}

// CreateViewRequest declares a new feature view.
type CreateViewRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// WriteFeaturesRequest carries a batch of feature records for one view.
type WriteFeaturesRequest struct {
	Records []core.FeatureRecord `json:"records"`
}

// OnlineFeaturesRequest asks for the latest records of a set of companies.
type OnlineFeaturesRequest struct {
	CompanyIDs []string `json:"company_ids"`
}

// HistoricalFeaturesRequest asks for records inside a time range.
type HistoricalFeaturesRequest struct {
	CompanyIDs []string  `json:"company_ids"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// RegisterModelRequest stages a new model version.
type RegisterModelRequest struct {
	VersionID    string `json:"version_id"`
	EmbeddingDim int    `json:"embedding_dim"`
}

// ActivateModelRequest promotes a staged version to active.
type ActivateModelRequest struct {
	VersionID string `json:"version_id"`
}

// handleHealth returns service health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Health(r.Context())
	code := http.StatusOK
	if status.Status == core.StatusDown {
		code = http.StatusServiceUnavailable
	}
	s.respondWithJSON(w, code, status)
}

// handleRecommend ranks partner candidates for one company
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req ranking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := s.engine.Recommend(r.Context(), req)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, rec)
}

// handleBatchRecommend ranks candidates for several companies at once
func (s *Server) handleBatchRecommend(w http.ResponseWriter, r *http.Request) {
	var req BatchRecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.CompanyIDs) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "company_ids cannot be empty")
		return
	}

	results, failures := s.engine.BatchRecommend(r.Context(), req.CompanyIDs, req.TopK)
	s.respondWithJSON(w, http.StatusOK, BatchRecommendResponse{Results: results, Failures: failures})
}

// handleExplain breaks down one query/candidate pair's score
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	companyID := vars["company_id"]
	candidateID := vars["candidate_id"]

	topFeatures := 0
	if v := r.URL.Query().Get("top_features"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondWithError(w, http.StatusBadRequest, "top_features must be a non-negative integer")
			return
		}
		topFeatures = n
	}

	expl, err := s.engine.Explain(r.Context(), companyID, candidateID, topFeatures)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, expl)
}

// handleModelStatus reports the active model version
func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.registry.GetActive()
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, active)
}

// handleRegisterModel stages a new model version
func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req RegisterModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VersionID == "" {
		s.respondWithError(w, http.StatusBadRequest, "version_id cannot be empty")
		return
	}
	if req.EmbeddingDim <= 0 {
		s.respondWithError(w, http.StatusBadRequest, "embedding_dim must be positive")
		return
	}

	version, err := s.registry.Register(r.Context(), req.VersionID, req.EmbeddingDim)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, version)
}

// handleListModels lists all registered model versions
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := s.registry.Versions(r.Context())
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// handleActivateModel atomically promotes a staged version
func (s *Server) handleActivateModel(w http.ResponseWriter, r *http.Request) {
	var req ActivateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VersionID == "" {
		s.respondWithError(w, http.StatusBadRequest, "version_id cannot be empty")
		return
	}

	version, err := s.registry.Activate(r.Context(), req.VersionID)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, version)
}

// handleCreateView creates a feature view
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	var req CreateViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := s.store.CreateFeatureView(r.Context(), req.Name, req.Dimension)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, view)
}

// handleWriteFeatures ingests a batch of feature records
func (s *Server) handleWriteFeatures(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewName := vars["view"]

	var req WriteFeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Records) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "records cannot be empty")
		return
	}

	result, err := s.store.WriteFeatures(r.Context(), viewName, req.Records)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}

	// Partial acceptance still returns 200; rejections ride in the body.
	s.respondWithJSON(w, http.StatusOK, result)
}

// handleOnlineFeatures serves the latest record per company
func (s *Server) handleOnlineFeatures(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewName := vars["view"]

	var req OnlineFeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.store.GetOnlineFeatures(r.Context(), viewName, req.CompanyIDs)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, result)
}

// handleHistoricalFeatures serves point-in-time records in a range
func (s *Server) handleHistoricalFeatures(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewName := vars["view"]

	var req HistoricalFeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	records, err := s.store.GetHistoricalFeatures(r.Context(), viewName, req.CompanyIDs, req.Start, req.End)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// handleViewStats reports aggregate statistics for a view
func (s *Server) handleViewStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewName := vars["view"]

	stats, err := s.store.GetFeatureStats(r.Context(), viewName)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

// handleListCompanies lists the companies present in a view
func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewName := vars["view"]

	companies, err := s.store.ListCompanies(r.Context(), viewName)
	if err != nil {
		s.respondWithDomainError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"companies": companies, "count": len(companies)})
}

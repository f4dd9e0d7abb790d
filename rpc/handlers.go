package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// handleCreateFeatureView creates a feature view
func (s *Server) handleCreateFeatureView(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args CreateFeatureViewArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return s.store.CreateFeatureView(ctx, args.Name, args.Dimension)
}

// handleWriteFeatures ingests a batch of feature records
func (s *Server) handleWriteFeatures(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args WriteFeaturesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.FeatureView == "" {
		return nil, fmt.Errorf("feature_view is required")
	}
	if len(args.Records) == 0 {
		return nil, fmt.Errorf("records cannot be empty")
	}
	return s.store.WriteFeatures(ctx, args.FeatureView, args.Records)
}

// handleGetOnlineFeatures serves the latest record per company
func (s *Server) handleGetOnlineFeatures(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args GetOnlineFeaturesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.FeatureView == "" {
		return nil, fmt.Errorf("feature_view is required")
	}
	return s.store.GetOnlineFeatures(ctx, args.FeatureView, args.CompanyIDs)
}

// handleGetHistoricalFeatures serves point-in-time records in a range
func (s *Server) handleGetHistoricalFeatures(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args GetHistoricalFeaturesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.FeatureView == "" {
		return nil, fmt.Errorf("feature_view is required")
	}
	records, err := s.store.GetHistoricalFeatures(ctx, args.FeatureView, args.CompanyIDs, args.Start, args.End)
	if err != nil {
		return nil, err
	}
	return HistoricalFeaturesResult{Records: records}, nil
}

// handleGetFeatureStats reports aggregate statistics for a view
func (s *Server) handleGetFeatureStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args GetFeatureStatsArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.FeatureView == "" {
		return nil, fmt.Errorf("feature_view is required")
	}
	return s.store.GetFeatureStats(ctx, args.FeatureView)
}

// handleListCompanies lists the companies present in a view
func (s *Server) handleListCompanies(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args ListCompaniesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.FeatureView == "" {
		return nil, fmt.Errorf("feature_view is required")
	}
	companies, err := s.store.ListCompanies(ctx, args.FeatureView)
	if err != nil {
		return nil, err
	}
	return ListCompaniesResult{Companies: companies, Count: len(companies)}, nil
}

// handleHealthCheck reports service health
func (s *Server) handleHealthCheck(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.health.Health(ctx), nil
}

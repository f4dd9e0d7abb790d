// Package rpc exposes the feature store over line-delimited JSON-RPC 2.0,
// for ingestion pipelines and offline training jobs that speak a persistent
// connection rather than HTTP.
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/synapselabs/partnermatch/core"
)

// JSONRPCVersion is the only protocol version the server accepts.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes
const (
	ErrorCodeParse          = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// Handler executes one RPC method.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// CreateFeatureViewArgs for the create_feature_view method
type CreateFeatureViewArgs struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// WriteFeaturesArgs for the write_features method
type WriteFeaturesArgs struct {
	FeatureView string               `json:"feature_view"`
	Records     []core.FeatureRecord `json:"records"`
}

// GetOnlineFeaturesArgs for the get_online_features method
type GetOnlineFeaturesArgs struct {
	FeatureView string   `json:"feature_view"`
	CompanyIDs  []string `json:"company_ids"`
}

// GetHistoricalFeaturesArgs for the get_historical_features method
type GetHistoricalFeaturesArgs struct {
	FeatureView string    `json:"feature_view"`
	CompanyIDs  []string  `json:"company_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// GetFeatureStatsArgs for the get_feature_stats method
type GetFeatureStatsArgs struct {
	FeatureView string `json:"feature_view"`
}

// ListCompaniesArgs for the list_companies method
type ListCompaniesArgs struct {
	FeatureView string `json:"feature_view"`
}

// HistoricalFeaturesResult wraps point-in-time records.
type HistoricalFeaturesResult struct {
	Records []core.FeatureRecord `json:"records"`
}

// ListCompaniesResult lists the companies present in a view.
type ListCompaniesResult struct {
	Companies []string `json:"companies"`
	Count     int      `json:"count"`
}

// Package api serves the prediction HTTP surface: health and model metadata,
// stateful and stateless prediction, session reset, and the SSE event stream.
package api

import (
	"context"
	"net/http"

	"github.com/psmyrdek/autodrive/internal/audit"
	"github.com/psmyrdek/autodrive/internal/infer"
	"github.com/psmyrdek/autodrive/internal/stream"
)

// PredictorPort defines the minimal interface the API needs from the
// inference engine.
type PredictorPort interface {
	Predict(sessionID string, raw []float64, threshold float64) (*infer.Prediction, error)
	PredictStateless(samples [][]float64, prevAction []float64, threshold float64) (*infer.Prediction, error)
	Reset(sessionID string)
	ModelInfo() infer.Info
}

// StreamPort defines the minimal interface the API needs from the event hub.
type StreamPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	PublishPrediction(sessionID string, data map[string]interface{})
	PublishReset(sessionID string)
}

// AuditPort defines the minimal interface the API needs from the audit log.
type AuditPort interface {
	LogAction(ctx context.Context, action, sessionID string, params map[string]interface{}, err error)
}

// Compile-time assertions for port conformance
var _ PredictorPort = (*infer.Engine)(nil)
var _ StreamPort = (*stream.Hub)(nil)
var _ AuditPort = (*audit.Logger)(nil)

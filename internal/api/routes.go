package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/psmyrdek/autodrive/internal/auth"
	"github.com/psmyrdek/autodrive/internal/infer"
)

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.withCORS(s.handleHealth))

	m := s.authMiddleware
	if m == nil {
		m = auth.NewMiddleware(nil)
	}

	// CORS wraps auth so preflight OPTIONS never needs a token.
	mux.HandleFunc(apiV1+"/model", s.withCORS(m.RequireAuth(m.RequireScope(auth.ScopeRead)(s.handleModel))))
	mux.HandleFunc(apiV1+"/predict", s.withCORS(m.RequireAuth(m.RequireScope(auth.ScopeControl)(s.handlePredict))))
	mux.HandleFunc(apiV1+"/predict/stateless", s.withCORS(m.RequireAuth(m.RequireScope(auth.ScopeControl)(s.handlePredictStateless))))
	mux.HandleFunc(apiV1+"/reset", s.withCORS(m.RequireAuth(m.RequireScope(auth.ScopeControl)(s.handleReset))))
	mux.HandleFunc(apiV1+"/events", s.withCORS(m.RequireAuth(m.RequireScope(auth.ScopeRead)(s.handleEvents))))
}

// predictRequest is the stateful prediction request body. Sensor fields are
// pointers so a missing reading is distinguishable from a zero one.
type predictRequest struct {
	LSensor   *float64 `json:"lSensor"`
	MLSensor  *float64 `json:"mlSensor"`
	CSensor   *float64 `json:"cSensor"`
	MRSensor  *float64 `json:"mrSensor"`
	RSensor   *float64 `json:"rSensor"`
	Speed     *float64 `json:"speed"`
	SessionID string   `json:"sessionId"`
	Threshold float64  `json:"threshold"`
}

func (r *predictRequest) raw() ([]float64, bool) {
	sensors := []*float64{r.LSensor, r.MLSensor, r.CSensor, r.MRSensor, r.RSensor, r.Speed}
	raw := make([]float64, len(sensors))
	for i, v := range sensors {
		if v == nil {
			return nil, false
		}
		raw[i] = *v
	}
	return raw, true
}

// statelessRequest is the stateless prediction request body. The caller
// tracks its own window and previous action.
type statelessRequest struct {
	Samples     [][]float64 `json:"samples"`
	PrevActions []float64   `json:"prevActions"`
	Threshold   float64     `json:"threshold"`
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

// predictionPayload is the prediction response data: thresholded control
// commands by direction, raw probabilities by key.
type predictionPayload struct {
	SessionID     string             `json:"sessionId,omitempty"`
	Commands      map[string]bool    `json:"commands"`
	Probabilities map[string]float64 `json:"probabilities"`
	Threshold     float64            `json:"threshold"`
}

func toPayload(sessionID string, p *infer.Prediction) predictionPayload {
	return predictionPayload{
		SessionID: sessionID,
		Commands: map[string]bool{
			"forward": p.Pressed[0],
			"left":    p.Pressed[1],
			"brake":   p.Pressed[2],
			"right":   p.Pressed[3],
		},
		Probabilities: map[string]float64{
			"w": p.Probabilities[0],
			"a": p.Probabilities[1],
			"s": p.Probabilities[2],
			"d": p.Probabilities[3],
		},
		Threshold: p.Threshold,
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	data := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.predictor != nil {
		info := s.predictor.ModelInfo()
		data["model"] = info.Kind
		data["normalized"] = info.Normalized
		data["sessions"] = info.Sessions
	}
	WriteSuccess(w, data)
}

// handleModel handles GET /model
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}
	if s.predictor == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No model loaded", nil)
		return
	}
	WriteSuccess(w, s.predictor.ModelInfo())
}

// handlePredict handles POST /predict
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}
	if s.predictor == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No model loaded", nil)
		return
	}

	var req predictRequest
	if !s.decodeStrict(w, r, &req) {
		return
	}
	raw, ok := req.raw()
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "All five sensor readings and speed are required", nil)
		return
	}

	pred, err := s.predictor.Predict(req.SessionID, raw, req.Threshold)
	s.audit(r, "predict", req.SessionID, map[string]interface{}{"threshold": req.Threshold}, err)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	payload := toPayload(sessionOrDefault(req.SessionID), pred)
	if s.hub != nil {
		s.hub.PublishPrediction(payload.SessionID, map[string]interface{}{
			"commands":      payload.Commands,
			"probabilities": payload.Probabilities,
			"threshold":     payload.Threshold,
		})
	}
	WriteSuccess(w, payload)
}

// handlePredictStateless handles POST /predict/stateless
func (s *Server) handlePredictStateless(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}
	if s.predictor == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No model loaded", nil)
		return
	}

	var req statelessRequest
	if !s.decodeStrict(w, r, &req) {
		return
	}

	pred, err := s.predictor.PredictStateless(req.Samples, req.PrevActions, req.Threshold)
	s.audit(r, "predict_stateless", "", map[string]interface{}{
		"samples":   len(req.Samples),
		"threshold": req.Threshold,
	}, err)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, toPayload("", pred))
}

// handleReset handles POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}
	if s.predictor == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No model loaded", nil)
		return
	}

	// An empty body resets the default session.
	var req resetRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	s.predictor.Reset(req.SessionID)
	s.audit(r, "reset", req.SessionID, nil, nil)

	sessionID := sessionOrDefault(req.SessionID)
	if s.hub != nil {
		s.hub.PublishReset(sessionID)
	}
	WriteSuccess(w, map[string]string{"sessionId": sessionID, "status": "reset"})
}

// handleEvents handles GET /events (SSE)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}
	if s.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Event stream not available", nil)
		return
	}
	if err := s.hub.Subscribe(r.Context(), w, r); err != nil {
		writeAPIError(w, err)
	}
}

// decodeStrict decodes a JSON body rejecting unknown fields and trailing
// data, writing the error response itself on failure.
func (s *Server) decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}

func (s *Server) audit(r *http.Request, action, sessionID string, params map[string]interface{}, err error) {
	if s.auditLog == nil {
		return
	}
	s.auditLog.LogAction(r.Context(), action, sessionOrDefault(sessionID), params, err)
}

func sessionOrDefault(sessionID string) string {
	if sessionID == "" {
		return infer.DefaultSession
	}
	return sessionID
}

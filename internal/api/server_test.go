package api

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmyrdek/autodrive/internal/auth"
	"github.com/psmyrdek/autodrive/internal/checkpoint"
	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/infer"
	"github.com/psmyrdek/autodrive/internal/model"
	"github.com/psmyrdek/autodrive/internal/stream"
)

func testPredictor(t *testing.T) *infer.Engine {
	t.Helper()
	cfg := model.GRUConfig{InputSize: 10, HiddenSize: 6, NumLayers: 1, FCHidden: 4, OutputSize: 4}
	net, err := model.NewGRU(cfg, rand.New(rand.NewSource(33)))
	require.NoError(t, err)

	nz := &dataset.Normalizer{
		Mean: []float64{750, 750, 750, 750, 750, 5, 0, 0, 0, 0},
		Std:  []float64{300, 300, 300, 300, 300, 3, 1, 1, 1, 1},
	}
	eng, err := infer.NewEngine(&checkpoint.Loaded{Kind: checkpoint.KindGRU, GRU: net, Normalizer: nz}, infer.Options{SeqLen: 4})
	require.NoError(t, err)
	return eng
}

func testMux(t *testing.T, middleware *auth.Middleware) (*http.ServeMux, *stream.Hub) {
	t.Helper()
	hub := stream.NewHub(stream.Options{})
	t.Cleanup(hub.Stop)

	server := NewServer(testPredictor(t), hub, nil, middleware, Options{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux, hub
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

const validPredictBody = `{"lSensor":700,"mlSensor":800,"cSensor":900,"mrSensor":800,"rSensor":700,"speed":6}`

func TestHealthEndpoint(t *testing.T) {
	mux, _ := testMux(t, nil)

	rec, envelope := doJSON(t, mux, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", envelope["result"])
	assert.NotEmpty(t, envelope["correlationId"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "gru", data["model"])
	assert.Equal(t, true, data["normalized"])
}

func TestModelEndpoint(t *testing.T) {
	mux, _ := testMux(t, nil)

	rec, envelope := doJSON(t, mux, http.MethodGet, "/api/v1/model", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "gru", data["kind"])
	assert.Equal(t, float64(4), data["seqLen"])
	assert.Equal(t, true, data["normalized"])
}

func TestPredictHappyPath(t *testing.T) {
	mux, _ := testMux(t, nil)

	rec, envelope := doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", envelope["result"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "default", data["sessionId"])
	assert.Equal(t, 0.5, data["threshold"])

	// Commands carry the thresholded booleans by direction, probabilities
	// the raw sigmoid outputs by key.
	probs := data["probabilities"].(map[string]interface{})
	commands := data["commands"].(map[string]interface{})
	for _, name := range []string{"w", "a", "s", "d"} {
		p, ok := probs[name].(float64)
		require.True(t, ok, "probability %s missing", name)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	for _, name := range []string{"forward", "left", "brake", "right"} {
		_, ok := commands[name].(bool)
		assert.True(t, ok, "command %s missing", name)
	}
	assert.Equal(t, probs["w"].(float64) >= 0.5, commands["forward"].(bool))
	assert.Equal(t, probs["s"].(float64) >= 0.5, commands["brake"].(bool))
}

func TestPredictValidation(t *testing.T) {
	mux, _ := testMux(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"missing sensor", `{"lSensor":700,"mlSensor":800,"cSensor":900,"mrSensor":800,"speed":6}`},
		{"unknown field", `{"lSensor":1,"mlSensor":1,"cSensor":1,"mrSensor":1,"rSensor":1,"speed":1,"bogus":2}`},
		{"trailing data", validPredictBody + `{"extra":true}`},
		{"not json", `not json at all`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, envelope := doJSON(t, mux, http.MethodPost, "/api/v1/predict", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", envelope["result"])
			assert.Equal(t, "BAD_REQUEST", envelope["code"])
		})
	}
}

func TestPredictStateless(t *testing.T) {
	mux, _ := testMux(t, nil)

	body := `{"samples":[[700,800,900,800,700,6],[650,800,900,800,750,7]],"prevActions":[1,0,0,0]}`
	rec, envelope := doJSON(t, mux, http.MethodPost, "/api/v1/predict/stateless", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", envelope["result"])

	data := envelope["data"].(map[string]interface{})
	assert.NotContains(t, data, "sessionId")
	assert.Len(t, data["probabilities"].(map[string]interface{}), 4)

	// Malformed samples surface as BAD_REQUEST, not 500.
	rec, envelope = doJSON(t, mux, http.MethodPost, "/api/v1/predict/stateless", `{"samples":[[1,2]]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", envelope["code"])
}

func TestResetEndpoint(t *testing.T) {
	mux, _ := testMux(t, nil)

	_, _ = doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)

	rec, envelope := doJSON(t, mux, http.MethodPost, "/api/v1/reset", `{"sessionId":"default"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "reset", data["status"])
	assert.Equal(t, "default", data["sessionId"])

	// Empty body resets the default session; repeated resets stay 200.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetClearsPredictionHistory(t *testing.T) {
	mux, _ := testMux(t, nil)

	_, first := doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)
	_, _ = doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)
	_, _ = doJSON(t, mux, http.MethodPost, "/api/v1/reset", "")
	_, again := doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)

	firstProbs := first["data"].(map[string]interface{})["probabilities"]
	againProbs := again["data"].(map[string]interface{})["probabilities"]
	assert.Equal(t, firstProbs, againProbs)
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := testMux(t, nil)

	rec, envelope := doJSON(t, mux, http.MethodGet, "/api/v1/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", envelope["code"])

	rec, _ = doJSON(t, mux, http.MethodPost, "/api/v1/model", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthProtectsEndpoints(t *testing.T) {
	verifier, err := auth.NewVerifier(auth.VerifierConfig{Algorithm: "HS256", SecretKey: "secret"})
	require.NoError(t, err)
	mux, _ := testMux(t, auth.NewMiddleware(verifier))

	// Health stays open.
	rec, _ := doJSON(t, mux, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Predict without a token is rejected.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/v1/predict", validPredictBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A read-only token cannot predict but can read model info.
	readToken := signToken(t, "secret", []string{auth.ScopeRead})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte(validPredictBody)))
	req.Header.Set("Authorization", "Bearer "+readToken)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/model", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// A control token predicts.
	controlToken := signToken(t, "secret", []string{auth.ScopeRead, auth.ScopeControl})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte(validPredictBody)))
	req.Header.Set("Authorization", "Bearer "+controlToken)
	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func signToken(t *testing.T, secret string, scopes []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "test-user",
		"scopes": scopes,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestCORS(t *testing.T) {
	hub := stream.NewHub(stream.Options{})
	t.Cleanup(hub.Stop)
	server := NewServer(testPredictor(t), hub, nil, nil, Options{
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	// Preflight from an allowed origin succeeds without a body or token.
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predict", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	// Actual request from an allowed origin echoes it back.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte(validPredictBody)))
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	// An origin off the allow-list gets no CORS headers.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte(validPredictBody)))
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDisabledByDefault(t *testing.T) {
	mux, _ := testMux(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte(validPredictBody)))
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestToAPIErrorMapping(t *testing.T) {
	status, body := ToAPIError(infer.ErrBadArity)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "BAD_REQUEST")

	status, body = ToAPIError(infer.ErrModelNotLoaded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "UNAVAILABLE")

	status, body = ToAPIError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(body), "INTERNAL")

	status, _ = ToAPIError(nil)
	assert.Equal(t, http.StatusOK, status)

	apiErr := NewAPIError("FORBIDDEN", "nope", http.StatusForbidden, nil)
	status, body = ToAPIError(apiErr)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, string(body), "FORBIDDEN")
}

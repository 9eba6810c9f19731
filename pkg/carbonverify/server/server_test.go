package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	envmock "github.com/carbonflow/ai-engine/pkg/carbonverify/environment/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/features"
	imgmock "github.com/carbonflow/ai-engine/pkg/carbonverify/imagery/mock"
	legitmock "github.com/carbonflow/ai-engine/pkg/carbonverify/legitimacy/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/predictor"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/store"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/vegetation"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/verification"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/worker"
)

func testServerConfig(modelDir string) config.Config {
	return config.Config{
		Environment: "development",
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        8001,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Models: config.ModelConfig{
			Dir:             modelDir,
			TrainingSamples: 300,
			Estimators:      15,
			MaxDepth:        6,
			MinSamplesSplit: 5,
			MinSamplesLeaf:  2,
			Seed:            42,
		},
		Verification: config.VerificationConfig{
			LegitimacyThreshold:     0.8,
			FeasibilityThreshold:    0.7,
			AreaConfidenceThreshold: 0.8,
			AreaCoverageThreshold:   60,
			MaxImagesPerArea:        8,
			MaxProcessingTime:       model.Duration(30 * time.Second),
			InferenceWorkers:        4,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testServerConfig(t.TempDir())
	ctx := context.Background()

	engine := vegetation.New(cfg.Models, cfg.Verification, imgmock.New(), worker.New(4), nil, clock.RealClock{})
	require.NoError(t, engine.Initialize(ctx))

	extractor := features.NewExtractor(envmock.New(), clock.RealClock{})
	pred := predictor.New(cfg.Models, extractor, clock.RealClock{})
	require.NoError(t, pred.Initialize(ctx))

	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "verify.db"), RetentionDays: 30})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	aggregator := verification.New(cfg.Verification, engine, legitmock.New(0.9), pred, st, clock.RealClock{})
	return New(cfg, aggregator, engine, pred, st, clock.RealClock{})
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "operational", body["status"])
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status       string          `json:"status"`
		ModelsLoaded map[string]bool `json:"models_loaded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.ModelsLoaded["satellite_analyzer"])
	assert.True(t, body.ModelsLoaded["carbon_predictor"])
}

func verifyPayload(projectID string) []byte {
	payload := map[string]any{
		"project_id":    projectID,
		"name":          "HTTP Test Project",
		"location":      map[string]float64{"lat": 45.0, "lng": 25.0},
		"project_type":  "reforestation",
		"area_hectares": 150.0,
		"start_date":    time.Now().AddDate(-1, 0, 0).Format(time.RFC3339),
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestVerifyEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/verify-carbon-project", bytes.NewReader(verifyPayload("proj-http-1")))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(t, s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "proj-http-1", body["project_id"])
	assert.Contains(t, body, "verification_status")
	assert.Contains(t, body, "confidence_score")
	assert.Contains(t, body, "fraud_risk_score")
	assert.Contains(t, body, "satellite_analysis")
}

func TestVerifyEndpointRejectsBadPayload(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/verify-carbon-project", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/verify-carbon-project", bytes.NewBufferString(`{"project_id":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, req).Code)
}

func TestPredictionEndpointAfterVerify(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/verify-carbon-project", bytes.NewReader(verifyPayload("proj-http-2")))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, doRequest(t, s, req).Code)

	w := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/carbon-prediction/proj-http-2?timeframe_days=180", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		ProjectID string           `json:"project_id"`
		Monthly   []map[string]any `json:"monthly_breakdown"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "proj-http-2", body.ProjectID)
	assert.Len(t, body.Monthly, 6)
}

func TestPredictionEndpointUnknownProject(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/carbon-prediction/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPredictionEndpointBadTimeframe(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/carbon-prediction/any?timeframe_days=-2", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 200, B: 30, A: 255})
		}
	}
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "scene.png")
	require.NoError(t, err)
	_, err = part.Write(encoded.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("project_id", "proj-upload"))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestAnalyzeSatelliteEndpoint(t *testing.T) {
	s := newTestServer(t)
	body, contentType := pngUpload(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze-satellite", body)
	req.Header.Set("Content-Type", contentType)
	w := doRequest(t, s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ProjectID string `json:"project_id"`
		Filename  string `json:"filename"`
		Analysis  struct {
			Confidence float64            `json:"confidence"`
			ClassProbs map[string]float64 `json:"class_probabilities"`
		} `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "proj-upload", resp.ProjectID)
	assert.Equal(t, "scene.png", resp.Filename)
	assert.NotEmpty(t, resp.Analysis.ClassProbs)
}

func TestAnalyzeSatelliteRejectsNonImage(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze-satellite", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, req).Code)
}

func TestCORSHeaders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := doRequest(t, s, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = doRequest(t, s, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

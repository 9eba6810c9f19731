// Package server exposes the verification engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/predictor"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/store"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/vegetation"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/verification"
)

const version = "1.0.0"

// ProjectLoader fetches stored project descriptors for the prediction
// endpoint.
type ProjectLoader interface {
	GetProject(ctx context.Context, projectID string) (*types.ProjectDescriptor, error)
	SaveProject(ctx context.Context, p types.ProjectDescriptor) error
}

// Server wires the HTTP routes to the analysis components.
type Server struct {
	cfg        config.ServerConfig
	aggregator *verification.Aggregator
	engine     *vegetation.Engine
	predictor  *predictor.Predictor
	projects   ProjectLoader
	clock      clock.Clock
	router     *gin.Engine
}

// New builds the server and its route table.
func New(cfg config.Config, aggregator *verification.Aggregator, engine *vegetation.Engine, pred *predictor.Predictor, projects ProjectLoader, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg.Server,
		aggregator: aggregator,
		engine:     engine,
		predictor:  pred,
		projects:   projects,
		clock:      clk,
		router:     gin.New(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware(cfg.Server.CORSOrigins))

	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/verify-carbon-project", s.handleVerify)
	s.router.POST("/analyze-satellite", s.handleAnalyzeSatellite)
	s.router.GET("/carbon-prediction/:project_id", s.handlePrediction)

	return s
}

// Handler exposes the router for serving and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails or the process stops.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	klog.InfoS("Starting HTTP server", "addr", addr)
	return s.router.Run(addr)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "CarbonFlow AI Engine",
		"status":    "operational",
		"version":   version,
		"timestamp": s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"models_loaded": gin.H{
			"satellite_analyzer": s.engine.Ready(),
			"carbon_predictor":   s.predictor.Ready(),
		},
		"satellite_analyzer": s.engine.Info(),
		"carbon_predictor":   s.predictor.Metrics(),
		"timestamp":          s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	var project types.ProjectDescriptor
	if err := c.ShouldBindJSON(&project); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid project payload"})
		return
	}
	if project.ProjectID == "" || project.AreaHectares <= 0 || project.StartDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Project requires an id, a positive area and a start date"})
		return
	}

	klog.InfoS("Starting verification", "project", project.ProjectID)

	// Stored so the prediction endpoint can find it later; failures only
	// affect that endpoint, not this verification.
	if s.projects != nil {
		if err := s.projects.SaveProject(c.Request.Context(), project); err != nil {
			klog.ErrorS(err, "Failed to store project descriptor", "project", project.ProjectID)
		}
	}

	result, err := s.aggregator.Verify(c.Request.Context(), project)
	if err != nil {
		klog.ErrorS(err, "Verification failed", "project", project.ProjectID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Verification failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnalyzeSatellite(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing image file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable image file"})
		return
	}
	defer file.Close()

	img, err := decodeImage(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid file format"})
		return
	}

	analysis, err := s.engine.ClassifyImage(c.Request.Context(), img)
	if err != nil {
		klog.ErrorS(err, "Satellite analysis failed", "filename", fileHeader.Filename)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Analysis failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": c.PostForm("project_id"),
		"filename":   fileHeader.Filename,
		"analysis":   analysis,
		"timestamp":  s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handlePrediction(c *gin.Context) {
	projectID := c.Param("project_id")

	timeframeDays := 365
	if raw := c.Query("timeframe_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "timeframe_days must be a positive integer"})
			return
		}
		timeframeDays = parsed
	}

	project, err := s.projects.GetProject(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found"})
			return
		}
		klog.ErrorS(err, "Failed to load project", "project", projectID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Prediction failed"})
		return
	}

	prediction, err := s.predictor.PredictCapture(c.Request.Context(), *project, timeframeDays)
	if err != nil {
		klog.ErrorS(err, "Prediction failed", "project", projectID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Prediction failed"})
		return
	}
	c.JSON(http.StatusOK, prediction)
}

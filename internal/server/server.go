// Package server exposes the engine over HTTP: distillation on one side,
// provenance repair (run, verify, undo) on the other.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/driver"
	"github.com/agenthands/loom/internal/llm"
)

type Server struct {
	Engine *core.Engine
	Log    *zap.Logger
}

// NewServer wires the full stack from config file plus environment
// overrides. It fails fast on anything that would leave the process unable
// to serve.
func NewServer(log *zap.Logger) *Server {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn("config file not loadable, using defaults", zap.String("path", cfgPath), zap.Error(err))
		cfg = config.Default()
	}
	applyEnvOverrides(cfg)

	d, err := driver.NewBoltDriver(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, log)
	if err != nil {
		log.Fatal("failed to connect to graph store", zap.String("uri", cfg.Graph.URI), zap.Error(err))
	}

	llmClient, embedder, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		log.Fatal("failed to initialize LLM client", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}

	var reranker llm.RerankerClient
	if cfg.Weaver.RerankAmbiguous {
		reranker = llm.NewSimpleLLMReranker(llmClient)
	}

	auditDir := os.Getenv("AUDIT_DIR")
	if auditDir == "" {
		auditDir = "audit"
	}

	engine := core.NewEngine(d, llmClient, embedder, reranker, log, cfg, auditDir)
	if err := engine.BuildIndices(context.Background()); err != nil {
		log.Warn("building indices failed", zap.Error(err))
	}

	return &Server{Engine: engine, Log: log}
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("GRAPH_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("GRAPH_USER"); v != "" {
		cfg.Graph.User = v
	}
	if v := os.Getenv("GRAPH_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/distill", s.Distill)
	r.POST("/repair/run", s.RepairRun)
	r.GET("/repair/verify", s.RepairVerify)
	r.POST("/repair/undo", s.RepairUndo)

	return r
}

type DistillRequest struct {
	Text        string            `json:"text" binding:"required"`
	Source      string            `json:"source"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
	Store       bool              `json:"store"`
}

func (s *Server) Distill(c *gin.Context) {
	var req DistillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	unit := model.ContentUnit{
		Text:        req.Text,
		Source:      req.Source,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	}

	if req.Store {
		moment, eid, err := s.Engine.DistillAndStore(c.Request.Context(), unit)
		if err != nil {
			s.respondError(c, err, "distill and store failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"moment": moment, "s_eid": eid})
		return
	}

	moment, err := s.Engine.Distill(c.Request.Context(), unit)
	if err != nil {
		s.respondError(c, err, "distill failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"moment": moment})
}

type RepairRunRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) RepairRun(c *gin.Context) {
	var req RepairRunRequest
	// An empty or absent body means a dry run.
	_ = c.ShouldBindJSON(&req)

	mode := model.ModeDryRun
	switch req.Mode {
	case "", string(model.ModeDryRun):
	case string(model.ModeCommit):
		mode = model.ModeCommit
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be 'dry_run' or 'commit'"})
		return
	}

	summary, run, err := s.Engine.RunRepair(c.Request.Context(), mode)
	if err != nil {
		// Partial results are still reported alongside the failure.
		status := http.StatusInternalServerError
		if errors.Is(err, driver.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "summary": summary, "run_id": run.RunID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "pairs": run.Pairs})
}

func (s *Server) RepairVerify(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
		return
	}

	report, err := s.Engine.Verify(c.Request.Context(), runID, nil)
	if err != nil {
		s.respondError(c, err, "verify failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

type RepairUndoRequest struct {
	RunID string `json:"run_id" binding:"required"`
}

func (s *Server) RepairUndo(c *gin.Context) {
	var req RepairUndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
		return
	}

	report, err := s.Engine.Undo(c.Request.Context(), req.RunID, nil)
	if err != nil {
		s.respondError(c, err, "undo failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) respondError(c *gin.Context, err error, msg string) {
	s.Log.Error(msg, zap.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, driver.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"league-sync-service/config"
	"league-sync-service/logger"
	"league-sync-service/services"
)

// Server 管理侧 HTTP API：冲突面板、解锁、比赛与死信查询、人工录入入口
type Server struct {
	config     *config.Config
	db         *sql.DB
	store      *services.MatchStore
	stats      *services.StatsTracker
	publisher  services.IngestPublisher
	validator  *services.SchemaValidator
	httpServer *http.Server
}

// NewServer 创建 Server
func NewServer(cfg *config.Config, db *sql.DB, store *services.MatchStore,
	stats *services.StatsTracker, publisher services.IngestPublisher) *Server {
	return &Server{
		config:    cfg,
		db:        db,
		store:     store,
		stats:     stats,
		publisher: publisher,
		validator: services.NewSchemaValidator(),
	}
}

func (s *Server) Start() error {
	router := mux.NewRouter()

	// API路由
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/matches", s.handleListMatches).Methods("GET")
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/matches/{id}/unlock", s.handleUnlockMatch).Methods("POST")
	api.HandleFunc("/conflicts", s.handleListConflicts).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", s.handleResolveConflict).Methods("POST")
	api.HandleFunc("/deadletters", s.handleListDeadLetters).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/ingest", s.handleIngest).Methods("POST")

	// Prometheus 指标
	router.Handle("/metrics", promhttp.Handler())

	// CORS配置
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(router)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleGetStats 流水线计数 + 存量统计
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	var totals struct {
		Matches     int `json:"matches"`
		Locked      int `json:"locked_matches"`
		Conflicts   int `json:"open_conflicts"`
		DeadLetters int `json:"dead_letters"`
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM matches", &totals.Matches},
		{"SELECT COUNT(*) FROM matches WHERE locked = TRUE", &totals.Locked},
		{"SELECT COUNT(*) FROM match_conflicts WHERE resolved = FALSE", &totals.Conflicts},
		{"SELECT COUNT(*) FROM dead_letters", &totals.DeadLetters},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(r.Context(), c.query).Scan(c.dest); err != nil {
			logger.Errorf("Failed to load store totals: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load store totals")
			return
		}
	}

	writeJSON(w, map[string]interface{}{
		"pipeline": s.stats.Snapshot(),
		"store":    totals,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

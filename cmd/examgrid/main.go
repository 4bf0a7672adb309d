package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	api "github.com/examgrid/examgrid/internal/api/http"
	"github.com/examgrid/examgrid/internal/audit"
	auth "github.com/examgrid/examgrid/internal/auth/middleware"
	"github.com/examgrid/examgrid/internal/batch"
	"github.com/examgrid/examgrid/internal/capacity"
	"github.com/examgrid/examgrid/internal/config"
	"github.com/examgrid/examgrid/internal/db"
	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/result"
	"github.com/examgrid/examgrid/internal/rules"
	"github.com/examgrid/examgrid/internal/scoring"
	"github.com/examgrid/examgrid/internal/submission"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	// --- Stores and services ---
	exams := exam.NewSQLStore(dbh)
	results := result.NewSQLStore(dbh)
	auditor := audit.NewLog(dbh)

	resolver := rules.NewResolver(rules.NewSQLStore(dbh))
	engine := scoring.NewEngine(exams, results, resolver)

	qcfg := queue.DefaultConfig()
	qcfg.MaxAttempts = cfg.QueueMaxAttempts
	qcfg.Retention = cfg.QueueRetention
	qstore := queue.NewSQLStore(dbh, qcfg)

	advisor := capacity.NewAdvisor(dbh, qstore, capacity.Mode(cfg.SizingMode))
	workerID := "worker-" + uuid.NewString()[:8]
	processor := batch.NewProcessor(qstore, engine, results, auditor, workerID, cfg.MaxProcessingTime)
	svc := submission.NewService(engine, results, qstore, auditor)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)
	adminCreds := auth.AdminCredentials{User: cfg.AdminUser, PassHash: cfg.AdminPassHash}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, adminCreds))

	// Student-facing surface (JWT issued by the platform's session layer).
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Post("/submissions", api.SubmitHandler(svc))
		pr.Get("/submissions/{submissionID}/status", api.StatusHandler(svc))
	})

	// Admin/monitoring surface.
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc), auth.RequireRole("admin"))
		pr.Get("/admin/queue/stats", api.QueueStatsHandler(qstore))
		pr.Get("/admin/capacity", api.CapacityHandler(advisor))
		pr.Post("/admin/queue/{submissionID}/retry", api.RetrySubmissionHandler(qstore, auditor))
	})

	// Scheduler trigger (shared-secret bearer, not JWT).
	r.Post("/internal/cron/process-submissions",
		api.ProcessSubmissionsHandler(processor, advisor, qstore, cfg.CronSecret))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := dbh.PingContext(req.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Printf("listening on %s (db=%s, worker=%s)", cfg.HTTPAddr, cfg.DBDriver, workerID)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

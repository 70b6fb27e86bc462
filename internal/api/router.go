package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/statetracker/statetracker/internal/api/handlers"
	mw "github.com/statetracker/statetracker/internal/api/middleware"
	"github.com/statetracker/statetracker/internal/bridge"
	"github.com/statetracker/statetracker/internal/config"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"github.com/statetracker/statetracker/internal/service"
	"github.com/statetracker/statetracker/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router  *chi.Mux
	Worker  *service.WorkerService
	Learner *service.LearnerService
	Retrier *service.RetryService

	docs         domain.DocumentStore
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(validator *schema.Validator, logger *zap.Logger) *App {
	paths := store.NewPaths(config.RootDir())

	// Stores
	docs := store.NewDocumentStore(paths.Document())
	audit := store.NewAuditLog(paths.Audit())
	dlq := store.NewDLQLog(paths.DLQ())
	learning := store.NewLearningLog(paths.Learning())
	runtimeState := store.NewRuntimeStateStore(paths.RuntimeState())
	sessions := store.NewSessionSource(config.SessionDir())

	var messenger domain.Messenger
	if cmd := config.TelegramSendCmd(); cmd != "" {
		messenger = store.NewCommandMessenger(cmd)
		logger.Info("chat delivery via command", zap.String("cmd", cmd))
	} else {
		messenger = store.NewOutboxMessenger(paths.Outbox())
		logger.Info("chat delivery via outbox", zap.String("path", paths.Outbox()))
	}

	// Intent classification: built-in rules, or a child process whose output
	// is schema-checked.
	var classifier service.IntentClassifier = service.RuleClassifier{}
	if config.IntentExtractorMode() == "command" && config.IntentExtractorCmd() != "" {
		classifier = service.NewCommandClassifier(config.IntentExtractorCmd(), validator, logger)
	}

	// Services
	resolver := &service.Resolver{Now: time.Now}
	extractor := service.NewExtractor(classifier)
	ingestSvc := service.NewIngestService(docs, audit, dlq, validator, resolver, logger)
	signalSvc := service.NewSignalService(docs, dlq, validator, ingestSvc, logger)
	confirmSvc := service.NewConfirmService(docs, audit, dlq, learning, validator, resolver, logger)
	projectionSvc := service.NewProjectionService(docs, audit, config.ProjectionArtifact(), logger)
	learnerSvc := service.NewLearnerService(docs, audit, learning, logger)
	retrySvc := service.NewRetryService(dlq, validator, ingestSvc, confirmSvc, signalSvc, logger)
	workerSvc := service.NewWorkerService(docs, confirmSvc, runtimeState, messenger, sessions, logger, service.WorkerConfig{
		Target:     config.TelegramTarget(),
		EntityID:   config.EntityID(),
		Interval:   config.TelegramReviewInterval(),
		SessionDir: config.SessionDir(),
	})

	chatBridge := bridge.New(docs, runtimeState, ingestSvc, confirmSvc, extractor, projectionSvc, logger, bridge.Config{
		EntityID:       config.EntityID(),
		MaxFields:      config.InjectMaxFields(),
		Channels:       config.IngestChannels(),
		AllowedSenders: config.IngestAllowedSenders(),
		MinChars:       config.IngestMinChars(),
		MaxPending:     config.IngestMaxPending(),
		SourceType:     config.IngestSourceType(),
	})

	// Handlers
	observationHandler := handlers.NewObservationHandler(ingestSvc, extractor, config.EntityID())
	signalHandler := handlers.NewSignalHandler(signalSvc)
	confirmationHandler := handlers.NewConfirmationHandler(confirmSvc, config.ReviewMaxPending(), config.ReviewLimit(), config.ReviewMinConfidence())
	promptHandler := handlers.NewPromptHandler(docs)
	dlqHandler := handlers.NewDLQHandler(dlq, retrySvc)
	maintenanceHandler := handlers.NewMaintenanceHandler(projectionSvc, learnerSvc)
	hookHandler := handlers.NewHookHandler(chatBridge)
	stateHandler := handlers.NewStateHandler(docs, audit, dlq, learning, runtimeState, config.ProjectionArtifact(), config.SessionDir())

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Worker:    workerSvc,
		Learner:   learnerSvc,
		Retrier:   retrySvc,
		docs:      docs,
		startTime: time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/observations", func(r chi.Router) {
			r.Post("/", observationHandler.Create)
			r.Post("/text", observationHandler.CreateFromText)
		})

		r.Post("/signals", signalHandler.Create)
		r.Post("/confirmations", confirmationHandler.Apply)

		r.Route("/prompts", func(r chi.Router) {
			r.Get("/", promptHandler.List)
			r.Get("/{ref}", promptHandler.GetByRef)
		})

		r.Post("/review-queue/promote", confirmationHandler.Promote)

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Post("/retry", dlqHandler.Retry)
		})

		r.Post("/projection", maintenanceHandler.Project)
		r.Post("/learner/run", maintenanceHandler.RunLearner)

		r.Route("/hooks", func(r chi.Router) {
			r.Get("/context", hookHandler.Context)
			r.Post("/message", hookHandler.Message)
		})
		r.Post("/commands/state-confirm", hookHandler.StateConfirm)

		r.Get("/state", stateHandler.Get)
		r.Get("/doctor", stateHandler.Doctor)
	})

	return app
}

// NewRouter returns just the chi.Mux for embedding.
func NewRouter(validator *schema.Validator, logger *zap.Logger) *chi.Mux {
	return NewApp(validator, logger).Router
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app.docs.Lock()
		_, err := app.docs.Load()
		app.docs.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy the domain interfaces at compile time.
var (
	_ domain.DocumentStore     = (*store.DocumentStore)(nil)
	_ domain.AuditLog          = (*store.AuditLog)(nil)
	_ domain.DLQLog            = (*store.DLQLog)(nil)
	_ domain.LearningLog       = (*store.LearningLog)(nil)
	_ domain.RuntimeStateStore = (*store.RuntimeStateStore)(nil)
	_ domain.Messenger         = (*store.OutboxMessenger)(nil)
	_ domain.Messenger         = (*store.CommandMessenger)(nil)
	_ domain.SessionSource     = (*store.SessionSource)(nil)
	_ service.IntentClassifier = service.RuleClassifier{}
	_ service.IntentClassifier = (*service.CommandClassifier)(nil)
)

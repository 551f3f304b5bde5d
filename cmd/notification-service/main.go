// Notification Service
// =====================
// Turns trainee lifecycle events (programme membership, placement, LTFT,
// certificate of joining, Form R, GMC registration, account confirmation)
// into scheduled or immediate email/in-app notifications, and serves the
// trainee-facing history API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	httpapi "github.com/tis-trainee/notifications/interfaces/http"
	"github.com/tis-trainee/notifications/internal/notification/application/usecase"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/broadcaster"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/directory"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/listeners"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/mail"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/messaging"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/outbox"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/persistence/mongo"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/scheduler"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/template"
	"github.com/tis-trainee/notifications/pkg/config"
	"github.com/tis-trainee/notifications/pkg/database"
	"github.com/tis-trainee/notifications/pkg/events"
	"github.com/tis-trainee/notifications/pkg/logger"
	"github.com/tis-trainee/notifications/pkg/middleware"
	"github.com/tis-trainee/notifications/pkg/response"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// systemClock is the production ports.Clock: wall-clock time, nothing more.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.App.Name = "notification-service"
	cfg.Server.Port = 8084

	log := logger.New(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Caller: cfg.Logger.Caller,
	})
	log = log.With().Service(cfg.App.Name).Logger()
	logger.SetGlobal(log)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting Notification service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Notification.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Notification.Timezone).Msg("invalid notification timezone")
	}

	mongoDB, err := database.NewMongoDB(&cfg.MongoDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer mongoDB.Close(context.Background())

	redisClient, err := database.NewRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	eventBus, err := events.NewRabbitMQEventBus(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer eventBus.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS SDK configuration")
	}
	snsClient := sns.NewFromConfig(awsCfg)

	if err := mongo.EnsureIndexes(ctx, mongoDB.Database()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
	}
	historyRepo := mongo.NewHistoryRepository(mongoDB.Database())
	scheduleRepo := mongo.NewScheduleRepository(mongoDB.Database())

	broadcastEventAttr := cfg.Notification.SNS.MessageAttribute
	eventPublisher := broadcaster.New(snsClient, cfg.Notification.SNS.TopicARN, broadcastEventAttr, log)

	userDirectory := directory.New(
		directory.NewRedisAccountCache(redisClient.Client()),
		cfg.Notification.TraineeServiceURL,
		cfg.Notification.DirectoryCacheCooldown,
		log,
	)

	messagingController := messaging.New(&cfg.Notification)

	mailGateway := mail.NewResilient(mail.New(cfg.Notification.MailGatewayURL, cfg.Notification.MailSender))

	templateEngine := template.New(cfg.Notification.TemplateDir, cfg.Notification.TemplateVersions, loc)

	jobScheduler := scheduler.New(scheduleRepo, log, cfg.Notification.ReconciliationPeriod, cfg.Notification.CatchUpWindow)

	outboxWorker := outbox.New(nil, historyRepo, log, cfg.Notification.ReconciliationPeriod, cfg.Notification.CatchUpWindow)

	notificationService := usecase.NewNotificationService(
		historyRepo,
		scheduleRepo,
		jobScheduler,
		templateEngine,
		userDirectory,
		messagingController,
		mailGateway,
		eventPublisher,
		outboxWorker,
		systemClock{},
		log,
		loc,
		time.Duration(cfg.Notification.DelayMinutes)*time.Minute,
		cfg.Notification.CatchUpWindow,
	)

	outboxWorker.SetResender(notificationService)

	jobScheduler.SetHandler(notificationService.Fire)
	jobScheduler.SetDroppedHandler(notificationService.DropExpired)
	if err := jobScheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	go outboxWorker.Run(ctx)

	// Heal SCHEDULED rows whose scheduler entry was lost: replay what is
	// still in the catch-up window, fail the rest as missed schedules.
	go func() {
		ticker := time.NewTicker(cfg.Notification.ReconciliationPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := notificationService.SweepOrphanedSchedules(ctx); err != nil {
					log.Error().Err(err).Msg("orphaned-schedule sweep failed")
				}
			}
		}
	}()

	eventListeners := listeners.New(eventBus, notificationService, log)
	if err := eventListeners.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event listeners")
	}

	mux := http.NewServeMux()

	startTime := time.Now()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]response.HealthCheck)

		if err := mongoDB.Health(r.Context()); err != nil {
			checks["mongodb"] = response.HealthCheck{Status: "unhealthy", Message: err.Error()}
		} else {
			checks["mongodb"] = response.HealthCheck{Status: "healthy"}
		}

		if err := redisClient.Health(r.Context()); err != nil {
			checks["redis"] = response.HealthCheck{Status: "unhealthy", Message: err.Error()}
		} else {
			checks["redis"] = response.HealthCheck{Status: "healthy"}
		}

		if jobScheduler.Live() {
			checks["scheduler"] = response.HealthCheck{Status: "healthy"}
		} else {
			checks["scheduler"] = response.HealthCheck{Status: "unhealthy", Message: "scheduler worker is not running"}
		}

		status := "healthy"
		for _, check := range checks {
			if check.Status != "healthy" {
				status = "unhealthy"
				break
			}
		}

		response.Health(w, status, Version, time.Since(startTime), checks)
	})

	traineeAPI := httpapi.New(historyRepo, templateEngine, notificationService, log)
	traineeMux := http.NewServeMux()
	traineeAPI.Routes(traineeMux)

	rateLimitCfg := middleware.RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
		KeyFunc:  middleware.TraineeKeyFunc,
	}
	traineeHandler := middleware.Chain(
		middleware.TraineeAuth("X-Trainee-Person-Id"),
		middleware.RateLimit(middleware.NewRedisRateLimiter(redisClient, rateLimitCfg), rateLimitCfg),
	)(traineeMux)
	mux.Handle("/api/history/", traineeHandler)

	handler := middleware.Chain(
		middleware.RequestID,
		middleware.Logger(log),
		middleware.Recover(log),
		middleware.CORS([]string{"*"}, []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, []string{"*", "X-Trainee-Person-Id"}),
		middleware.ContentType("application/json"),
	)(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	stop()

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

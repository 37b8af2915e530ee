package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/peer-eval-api/api/swagger"
	"github.com/noah-isme/peer-eval-api/internal/handler"
	"github.com/noah-isme/peer-eval-api/internal/middleware"
	"github.com/noah-isme/peer-eval-api/internal/repository"
	"github.com/noah-isme/peer-eval-api/internal/service"
	"github.com/noah-isme/peer-eval-api/pkg/cache"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	"github.com/noah-isme/peer-eval-api/pkg/config"
	"github.com/noah-isme/peer-eval-api/pkg/database"
	"github.com/noah-isme/peer-eval-api/pkg/logger"
	"github.com/noah-isme/peer-eval-api/pkg/notify"
	"github.com/noah-isme/peer-eval-api/pkg/signer"
)

// @title Peer Evaluation API
// @version 1.0.0
// @description Identity resolution and peer evaluation for classroom team projects
// @BasePath /api
// @schemes http https

const sessionIssuer = "peer-eval-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock, err := civiltime.New(cfg.Institution.Timezone)
	if err != nil {
		logr.Fatal("invalid institution timezone", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, session revocation disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	store := repository.NewStore(db, cfg.Database.QueryTimeout, metrics)

	teachers := repository.NewTeacherRepository(store)
	classes := repository.NewClassRepository(store)
	teams := repository.NewTeamRepository(store)
	students := repository.NewStudentRepository(store)
	assignments := repository.NewAssignmentRepository(store)
	evaluations := repository.NewEvaluationRepository(store)
	accessTokens := repository.NewAccessTokenRepository(store)
	revocations := repository.NewSessionRepository(redisClient, logr)

	mailer := notify.NewDispatcher(notify.LogMailer{Logger: logr, Sender: cfg.Mail.Sender}, notify.DispatcherConfig{
		Workers:    cfg.Mail.Workers,
		BufferSize: 64,
		MaxRetries: cfg.Mail.Retries,
		RetryDelay: cfg.Mail.RetryDelay,
		Logger:     logr,
	})
	mailer.Start(ctx)
	defer mailer.Stop()

	hasher := service.NewPasscodeHasher(cfg.Security.PasswordHashCost)
	tickets := signer.New(cfg.Tickets.Secret, cfg.Tickets.SelectionTTL)

	sessionSvc := service.NewSessionService(service.SessionConfig{
		Secret:     cfg.Session.Secret,
		Issuer:     sessionIssuer,
		TeacherTTL: cfg.Session.TeacherTTL,
		StudentTTL: cfg.Session.StudentTTL,
	}, revocations, clock, metrics, logr)
	accessTokenSvc := service.NewAccessTokenService(accessTokens, classes, teams, service.AccessTokenConfig{
		TTL:     cfg.JoinLink.TTL,
		BaseURL: cfg.JoinLink.BaseURL,
	}, clock, logr)
	identitySvc := service.NewIdentityService(service.IdentityRepositories{
		Teachers: teachers,
		Students: students,
		Classes:  classes,
		Teams:    teams,
	}, accessTokenSvc, sessionSvc, hasher, tickets, clock, metrics, validate, logr)
	registrationSvc := service.NewRegistrationService(teachers, mailer, hasher, tickets, clock, service.RegistrationConfig{
		EmailDomain:     cfg.Institution.EmailDomain,
		VerificationTTL: cfg.Tickets.VerificationTTL,
	}, validate, logr)
	classSvc := service.NewClassService(classes, teams, students, hasher, clock, validate, logr)
	assignmentSvc := service.NewAssignmentService(assignments, classes, clock, validate, logr)
	evaluationSvc := service.NewEvaluationService(service.EvaluationRepositories{
		Evaluations: evaluations,
		Students:    students,
		Teams:       teams,
		Classes:     classes,
		Assignments: assignments,
	}, hasher, clock, metrics, validate, logr)

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	cookies := handler.Cookies{
		Session:   middleware.SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure},
		Device:    cfg.Device.CookieName,
		DeviceTTL: cfg.Device.CookieTTL,
	}

	r := newRouter(cfg, logr, routeDeps{
		sessions:    sessionSvc,
		metrics:     metrics,
		cookies:     cookies,
		auth:        handler.NewAuthHandler(identitySvc, sessionSvc, registrationSvc, cookies),
		join:        handler.NewJoinHandler(accessTokenSvc, identitySvc, cookies),
		classes:     handler.NewClassHandler(classSvc),
		assignments: handler.NewAssignmentHandler(assignmentSvc),
		evaluations: handler.NewEvaluationHandler(evaluationSvc),
		student:     handler.NewStudentHandler(classSvc, assignmentSvc),
		observe:     handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

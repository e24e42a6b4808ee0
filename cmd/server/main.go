// server runs the phone OTP auth API over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gogrow/backend/internal/audit"
	auditrepo "gogrow/backend/internal/audit/repository"
	"gogrow/backend/internal/config"
	"gogrow/backend/internal/db"
	"gogrow/backend/internal/db/memory"
	"gogrow/backend/internal/db/migrate"
	healthhandler "gogrow/backend/internal/health/handler"
	identityservice "gogrow/backend/internal/identity/service"
	"gogrow/backend/internal/logging"
	otprepo "gogrow/backend/internal/otp/repository"
	"gogrow/backend/internal/otp/sms"
	"gogrow/backend/internal/server"
	"gogrow/backend/internal/server/middleware"
	sessionrepo "gogrow/backend/internal/session/repository"
	sessionservice "gogrow/backend/internal/session/service"
	telemetryotel "gogrow/backend/internal/telemetry/otel"
	userrepo "gogrow/backend/internal/user/repository"
)

// stores groups the repositories backing one run, either Postgres or in-memory.
type stores struct {
	users      identityservice.UserRepo
	sessions   interface {
		identityservice.SessionRepo
		sessionservice.SessionStore
	}
	challenges identityservice.ChallengeRepo
	audit      auditrepo.Repository
	health     healthhandler.Pinger
	close      func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	var sender identityservice.OTPSender
	if cfg.SMSEnabled() {
		sender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender, logger)
	} else if !cfg.OTPReturnToClient {
		logger.Warn("SMS_LOCAL_API_KEY is not set; OTPs will not be delivered")
	}

	auditLogger := audit.NewLogger(st.audit, middleware.ClientIPFromContext, telemetryotel.NewAuditMirror(providers.LoggerProvider), logger)
	authSvc := identityservice.NewAuthService(st.users, st.sessions, st.challenges, sender, auditLogger, logger, identityservice.Config{
		OTPExpiry:             cfg.OTPExpiry(),
		OTPMaxAttempts:        cfg.OTPMaxAttempts,
		SessionInactivityDays: cfg.SessionInactivityDays,
		OTPReturnToClient:     cfg.OTPReturnToClient,
	})
	gate := sessionservice.NewGate(st.sessions, cfg.SessionInactivityDays, auditLogger, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Deps{
		Auth:           authSvc,
		Gate:           gate,
		Health:         st.health,
		Logger:         logger,
		ServiceName:    cfg.ServiceName,
		AllowedOrigins: cfg.CORSAllowedOriginsList(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", cfg.Env),
			zap.Bool("otp_return_to_client", cfg.OTPReturnToClient),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down http server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")
	return nil
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set; using the in-memory store")
		mem := memory.New()
		return &stores{
			users:      mem.Users(),
			sessions:   mem.Sessions(),
			challenges: mem.Challenges(),
			audit:      mem.AuditLogs(),
			health:     mem,
			close:      func() error { return nil },
		}, nil
	}

	if cfg.MigrateOnStart {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return &stores{
		users:      userrepo.NewPostgresRepository(conn),
		sessions:   sessionrepo.NewPostgresRepository(conn),
		challenges: otprepo.NewPostgresRepository(conn),
		audit:      auditrepo.NewPostgresRepository(conn),
		health:     conn,
		close:      conn.Close,
	}, nil
}

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yunogate/yunogate/internal/auth"
	"github.com/yunogate/yunogate/internal/db/bunx"
	"github.com/yunogate/yunogate/internal/lockout"
	yunomw "github.com/yunogate/yunogate/internal/middleware"
	"github.com/yunogate/yunogate/internal/provision"
	"github.com/yunogate/yunogate/internal/reconcile"
	"github.com/yunogate/yunogate/internal/repository"
	"github.com/yunogate/yunogate/internal/server"
	"github.com/yunogate/yunogate/internal/ssotoken"
	"github.com/yunogate/yunogate/internal/telemetry"
)

// sessionSweepInterval is how often expired sessions are purged.
const sessionSweepInterval = 1 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trust-verification gateway",
	Long:  `Starts the HTTP server that verifies proxy assertions, provisions users and binds sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		logger := logrus.New()
		if cfg.Debug {
			logger.SetLevel(logrus.DebugLevel)
		}

		shutdownTelemetry, err := telemetry.Init(cmd.Context(), cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Warning: telemetry shutdown failed: %v", err)
			}
		}()

		// Initialize repositories
		userRepo := repository.NewBunUserRepository(db)
		sessionRepo := repository.NewBunSessionRepository(db)
		attemptRepo := repository.NewBunAccessAttemptRepository(db)

		// Assemble the verification pipeline.
		var verifier *ssotoken.Verifier
		if cfg.SSO.JWTSecret != "" {
			verifier = ssotoken.NewVerifier(cfg.SSO.JWTSecret)
		} else {
			logger.Warn("no portal JWT secret configured, portal tokens cannot be verified")
		}
		reconciler := reconcile.New(verifier, cfg.SSO.AllowUnverifiedCookie, logger)
		provisioner := provision.New(userRepo, nil, cfg.SSO.AdminUser, logger)
		guard, err := lockout.New(attemptRepo, cfg.Lockout.FailureLimit, cfg.Lockout.CoolOff, logger)
		if err != nil {
			return fmt.Errorf("configure lockout guard: %w", err)
		}

		ssoMiddleware, err := yunomw.NewSSOMiddleware(cfg, yunomw.SSODependencies{
			Reconciler:  reconciler,
			Provisioner: provisioner,
			Users:       userRepo,
			Sessions:    sessionRepo,
			Guard:       guard,
			Log:         logger,
		})
		if err != nil {
			return fmt.Errorf("configure sso middleware: %w", err)
		}

		enforcer, err := auth.InitEnforcer()
		if err != nil {
			return fmt.Errorf("configure casbin enforcer: %w", err)
		}
		authzMiddleware, err := yunomw.NewAuthzMiddleware(enforcer, logger)
		if err != nil {
			return fmt.Errorf("configure authorization middleware: %w", err)
		}

		handler := server.NewH2CHandler(server.RouterOptions{
			Cfg:             cfg,
			Users:           userRepo,
			Sessions:        sessionRepo,
			Attempts:        attemptRepo,
			Log:             logger,
			SSOMiddleware:   ssoMiddleware,
			AuthzMiddleware: authzMiddleware,
		})

		// Sweep expired sessions in the background.
		sweepCtx, cancelSweep := context.WithCancel(cmd.Context())
		defer cancelSweep()
		go func() {
			ticker := time.NewTicker(sessionSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := sessionRepo.DeleteExpired(sweepCtx); err != nil {
						logger.WithError(err).Warn("expired session sweep failed")
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/auth"
	"github.com/example/boneguard/internal/config"
	"github.com/example/boneguard/internal/dashboard"
	"github.com/example/boneguard/internal/handlers"
	"github.com/example/boneguard/internal/logging"
	"github.com/example/boneguard/internal/ratelimit"
	"github.com/example/boneguard/internal/repository"
	"github.com/example/boneguard/internal/session"
	"github.com/example/boneguard/internal/upload"
	"github.com/example/boneguard/internal/usecase"
)

const (
	initTimeout   = 15 * time.Second
	sweepInterval = time.Minute
	// submitSlack lets the controller timeout fire after the transport's own timeout.
	submitSlack = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Example: `  # Serve on the default address, classifier at http://localhost:8000
  boneguard serve

  # Custom address, classifier reached over gRPC
  CLASSIFIER_TRANSPORT=grpc boneguard serve --addr :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}

			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runServer(cmd.Context(), cfg, logger, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (overrides LISTEN_ADDR)")

	return cmd
}

// runServer wires every component and serves until ctx is cancelled. A nil listener
// listens on cfg.ListenAddr.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, listener net.Listener) error {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client, closeClient, err := newClassifier(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient() //nolint:errcheck

	var repo usecase.AuditRepository
	if cfg.DatabaseDSN != "" {
		db, err := initDatabase(initCtx, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		analysisRepo := repository.NewAnalysisRepository(db, logger)
		if err := analysisRepo.AutoMigrate(initCtx); err != nil {
			return err
		}
		repo = analysisRepo
	} else {
		logger.Info("DATABASE_DSN not set, audit log disabled")
	}

	bucket := ratelimit.Bucket{Name: "submit", MaxRequests: cfg.SubmitRateLimit, Window: time.Minute}
	var (
		cache   usecase.Cache
		limiter ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		redisClient, err := initRedis(initCtx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		cache = usecase.NewRedisCache(redisClient)
		limiter = ratelimit.NewWindowLimiter(bucket, ratelimit.NewRedisCounter(redisClient, "boneguard:ratelimit:"))
	} else {
		limiter = ratelimit.NewMemoryLimiter(bucket)
	}

	uc := usecase.NewAnalysisUseCase(client, repo, cache, logger)
	controllerOpts := upload.Options{
		SubmitTimeout:       submitTimeout(cfg),
		PreviewMaxDimension: cfg.PreviewMaxDimension,
	}
	factory := func() *upload.Controller {
		return upload.New(uc, logger, controllerOpts)
	}

	sessions := session.New(cfg.SessionTTL, factory)
	go sessions.Run(ctx, sweepInterval, func(removed int) {
		logger.Debug("expired sessions swept", zap.Int("removed", removed), zap.Int("live", sessions.Len()))
	})
	if memory, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go pruneLimiter(ctx, memory)
	}

	dash, err := dashboard.Default()
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))

	var authMiddleware gin.HandlerFunc
	if cfg.OperatorAPIEnabled() {
		authMiddleware = auth.RequireOperator(cfg.JWTSecret, cfg.JWTAudience)
	}

	h := handlers.New(handlers.Config{
		Sessions:       sessions,
		NewController:  factory,
		Operations:     uc,
		Dashboard:      dash,
		Limiter:        limiter,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	handlers.RegisterRoutes(r, h, authMiddleware)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("BoneGuard listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("classifier_transport", cfg.ClassifierTransport),
		zap.Bool("audit_log", repo != nil),
		zap.Bool("operator_api", authMiddleware != nil),
	)
	return serveHTTPServer(ctx, server, cfg.ShutdownTimeout, logger, listener)
}

func pruneLimiter(ctx context.Context, l *ratelimit.MemoryLimiter) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// serveHTTPServer serves until the server fails or ctx is done, then drains in-flight
// requests for up to shutdownTimeout.
func serveHTTPServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down server", zap.NamedError("cause", context.Cause(ctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

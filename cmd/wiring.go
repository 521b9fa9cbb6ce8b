package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/boneguard/internal/classifier"
	"github.com/example/boneguard/internal/config"
)

// newClassifier builds the configured transport. The returned close func is never nil.
func newClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classifier.Client, func() error, error) {
	var (
		client classifier.Client
		closer = func() error { return nil }
	)

	switch cfg.ClassifierTransport {
	case config.TransportGRPC:
		grpcClient, conn, err := classifier.DialGRPC(ctx, cfg.ClassifierGRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		client, closer = grpcClient, conn.Close
	default:
		httpClient, err := classifier.NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		client = httpClient
	}

	policy := classifier.DefaultRetryPolicy
	policy.Attempts = cfg.RetryAttempts
	return classifier.WithRetry(client, policy, logger), closer, nil
}

// submitTimeout bounds a whole submission, every retry attempt included.
func submitTimeout(cfg *config.Config) time.Duration {
	attempts := max(cfg.RetryAttempts, 1)
	return cfg.ClassifierTimeout*time.Duration(attempts) + submitSlack
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

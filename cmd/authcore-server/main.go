// Command authcore-server runs the authentication and access-control service
// over Redis and PostgreSQL, exposing the HTTP API and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	authcore "github.com/halcyon-health/authcore"
	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/httpapi"
	"github.com/halcyon-health/authcore/store/postgres"
)

type serverConfig struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
}

func loadConfig() (*serverConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_ISSUER", "authcore")
	v.SetDefault("LOG_LEVEL", "info")

	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "JWT_ISSUER", "LOG_LEVEL"} {
		_ = v.BindEnv(key)
	}
	_ = v.ReadInConfig()

	cfg := &serverConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "authcore").Logger()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "authcore-server",
		Short: "Healthcare authentication and access-control service",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			logger := newLogger(cfg.LogLevel)

			redisOpts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			redisClient := redis.NewClient(redisOpts)
			defer redisClient.Close()

			users, err := postgres.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer users.Close()

			engineCfg := authcore.DefaultConfig()
			engineCfg.JWT.PrivateKey = []byte(cfg.JWTSecret)
			engineCfg.JWT.Issuer = cfg.JWTIssuer

			auditStore := audit.NewPGStore(users.DB(), engineCfg.Audit.RetentionFloorDays)

			engine, err := authcore.New().
				WithConfig(engineCfg).
				WithRedis(redisClient).
				WithUserStore(users).
				WithAuditStore(auditStore).
				WithLogger(logger).
				Build()
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			prometheus.MustRegister(authcore.NewPrometheusCollector(engine.Metrics()))

			e := echo.New()
			e.HideBanner = true
			e.Use(echomw.Recover())
			e.GET("/healthz", func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			httpapi.NewHandler(engine, logger).RegisterRoutes(e.Group("/v1"))

			go func() {
				logger.Info().Str("port", cfg.Port).Msg("listening")
				if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server stopped")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			logger.Info().Msg("shutting down")
			return e.Shutdown(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := postgres.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			for _, schema := range []string{postgres.Schema, audit.Schema} {
				if _, err := store.DB().ExecContext(ctx, schema); err != nil {
					return fmt.Errorf("apply schema: %w", err)
				}
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

// Command collabd runs the collaboration websocket server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/FilipeJohansson/gocollab"
	"github.com/FilipeJohansson/gocollab/handler"
	"github.com/FilipeJohansson/gocollab/relay/redisrelay"
	"github.com/FilipeJohansson/gocollab/server"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type config struct {
	Env              string
	Port             int
	Path             string
	AllowedOrigins   []string
	LogLevel         gocollab.LogLevel
	RedisAddr        string
	RedisDB          int
	MaxConnections   int
	MaxConnectionsIP int
}

func loadConfig() config {
	return config{
		Env:              getEnv("COLLAB_ENV", "dev"),
		Port:             getEnvInt("COLLAB_PORT", 8080),
		Path:             getEnv("COLLAB_PATH", "/ws"),
		AllowedOrigins:   splitCSV(getEnv("COLLAB_ALLOWED_ORIGINS", "")),
		LogLevel:         gocollab.ParseLogLevel(getEnv("COLLAB_LOG_LEVEL", "info")),
		RedisAddr:        getEnv("COLLAB_REDIS_ADDR", ""),
		RedisDB:          getEnvInt("COLLAB_REDIS_DB", 0),
		MaxConnections:   getEnvInt("COLLAB_MAX_CONNECTIONS", 1000),
		MaxConnectionsIP: getEnvInt("COLLAB_MAX_CONNECTIONS_PER_IP", 50),
	}
}

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	if err := run(loadConfig()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := gocollab.UniformLoggerConfig(gocollab.NewDefaultLogger(gocollab.NewEnvLogger(cfg.Env)), cfg.LogLevel)
	logger.Level[gocollab.LogTypeError] = gocollab.LogLevelError

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	routerOpts := []gocollab.RouterOption{
		gocollab.WithLogger(logger),
		gocollab.WithMetrics(gocollab.NewMetrics(reg)),
	}

	if cfg.RedisAddr != "" {
		dialCtx, stop := context.WithTimeout(ctx, 5*time.Second)
		relay, err := redisrelay.Dial(dialCtx, cfg.RedisAddr, cfg.RedisDB, redisrelay.WithLogger(logger))
		stop()
		if err != nil {
			return fmt.Errorf("redis connect %s: %w", cfg.RedisAddr, err)
		}
		defer relay.Close()
		routerOpts = append(routerOpts, gocollab.WithRelay(relay))
	}

	router, err := gocollab.NewRouter(routerOpts...)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(router,
		server.WithPort(cfg.Port),
		server.WithPath(cfg.Path),
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithGatherer(reg),
		server.WithHandlerOptions(
			handler.WithMaxConnections(cfg.MaxConnections),
			handler.WithMaxConnectionsPerIP(cfg.MaxConnectionsIP),
		),
	)
	if err != nil {
		return err
	}

	return srv.StartWithContext(ctx)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

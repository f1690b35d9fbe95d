// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command navigator runs the tenant-scoped assistant orchestration
// service: an HTTP front end that grounds each tenant's assistant in its
// delivered roadmap and drives conversations against the external
// conversational-AI runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/strategio/navigator/cmd/navigator/config"
	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/assistant"
	"github.com/strategio/navigator/services/assistant/observability"
	"github.com/strategio/navigator/services/assistant/routes"
	"github.com/strategio/navigator/services/store"
)

func main() {
	root := &cobra.Command{
		Use:   "navigator",
		Short: "Tenant-scoped assistant orchestration service",
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			cfg := config.Global

			logger := logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				LogDir:  cfg.Logging.Dir,
				Service: "navigator",
				JSON:    cfg.Logging.JSON,
			})
			defer logger.Close()

			if cfg.Observability.Enabled {
				cleanup, err := initTracer(cfg.Observability.OTLPEndpoint, logger)
				if err != nil {
					return fmt.Errorf("failed to set up the OTLP tracer: %w", err)
				}
				defer cleanup(context.Background())
			}
			observability.InitMetrics()

			db, err := store.Open(expandPath(cfg.Database.Path))
			if err != nil {
				return err
			}
			defer db.Close()

			runtime, err := assistant.NewOpenAIRuntime(logger)
			if err != nil {
				return err
			}

			builder := assistant.NewStrategyBuilder(db, nil, logger)
			threads := assistant.NewThreadResolver(db, runtime, logger)
			orch := assistant.NewOrchestrator(db, builder, threads, runtime, logger, nil)

			router := gin.New()
			router.Use(gin.Recovery())
			router.Use(otelgin.Middleware("navigator"))
			routes.SetupRoutes(router, orch, logger)

			logger.Info("navigator listening", "port", cfg.Server.Port)
			return router.Run(":" + cfg.Server.Port)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			// Open applies pending migrations.
			db, err := store.Open(expandPath(config.Global.Database.Path))
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func initTracer(endpoint string, logger *logging.Logger) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("navigator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

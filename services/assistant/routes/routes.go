// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/assistant"
	"github.com/strategio/navigator/services/assistant/handlers"
	"github.com/strategio/navigator/services/assistant/middleware"
)

// SetupRoutes registers the assistant HTTP surface on the router.
func SetupRoutes(router *gin.Engine, orch *assistant.Orchestrator, logger *logging.Logger) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.ActorMiddleware())
	{
		v1.POST("/assistant/query", handlers.HandleAssistantQuery(orch, logger))
	}
}

// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/assistant"
	"github.com/strategio/navigator/services/assistant/middleware"
)

var queryTracer = otel.Tracer("navigator.assistant.handlers")

// QueryRequest is the inbound body for POST /v1/assistant/query. Actor
// identity may instead arrive via the X-Actor-* headers; body fields win
// when both are present. Capability claims are never accepted from the
// client; the profile is recomputed server-side from the actor role.
type QueryRequest struct {
	TenantID           string `json:"tenantId" binding:"required"`
	Message            string `json:"message" binding:"required"`
	ActorUserID        string `json:"actorUserId"`
	ActorRole          string `json:"actorRole"`
	VisibilityOverride string `json:"visibilityOverride"`
	CurrentView        string `json:"currentView"`
	TapIn              bool   `json:"tapIn"`
}

// QueryResponse is the success body.
type QueryResponse struct {
	Reply    string `json:"reply"`
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId"`
}

// HandleAssistantQuery serves POST /v1/assistant/query.
func HandleAssistantQuery(orch *assistant.Orchestrator, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleAssistantQuery")
		defer span.End()

		var req QueryRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Failed to parse the assistant query request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		actorID, actorRole := req.ActorUserID, req.ActorRole
		if info := middleware.GetActorInfo(c); info != nil {
			if actorID == "" {
				actorID = info.UserID
			}
			if actorRole == "" {
				actorRole = info.Role
			}
		}
		if actorID == "" || actorRole == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actor identity is required"})
			return
		}

		result, err := orch.Query(ctx, assistant.QueryInput{
			TenantID:           req.TenantID,
			Message:            req.Message,
			ActorUserID:        actorID,
			ActorRole:          assistant.ParseActorRole(actorRole),
			VisibilityOverride: assistant.Visibility(req.VisibilityOverride),
			CurrentView:        req.CurrentView,
			TapIn:              req.TapIn,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, message := mapQueryError(err)
			logger.Error("Assistant query failed",
				"tenant_id", req.TenantID, "actor_user_id", actorID, "status", status, "error", err)
			c.JSON(status, gin.H{"error": message, "details": err.Error()})
			return
		}

		c.JSON(http.StatusOK, QueryResponse{
			Reply:    result.Reply,
			RunID:    result.RunID,
			ThreadID: result.ThreadID,
		})
	}
}

// mapQueryError converts the orchestrator's error taxonomy into a status
// code and plain-language message. Raw internals never reach the user in
// the error field.
func mapQueryError(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrTenantNotProvisioned):
		return http.StatusConflict,
			"This workspace's assistant has not been set up yet. Finish onboarding first."
	case errors.Is(err, assistant.ErrRunFailed):
		return http.StatusBadGateway,
			"The assistant could not process that message. Try rephrasing and sending it again."
	case errors.Is(err, assistant.ErrRunIncomplete):
		return http.StatusBadGateway,
			"The assistant is taking longer than expected. Please try again in a moment."
	case errors.Is(err, assistant.ErrNoReply):
		return http.StatusBadGateway,
			"The assistant did not return a reply. Please try again."
	default:
		return http.StatusInternalServerError,
			"Something went wrong handling that message."
	}
}

// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the assistant service.
//
// ActorMiddleware extracts the acting user's identity from the X-Actor
// headers set by the platform gateway and stores it in the Gin context
// for downstream handlers. Only identity is carried this way; capability
// claims in headers or bodies are ignored, since the capability profile
// is always recomputed server-side from the actor role.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Header names set by the platform gateway.
const (
	HeaderActorUserID = "X-Actor-User-Id"
	HeaderActorRole   = "X-Actor-Role"
)

// actorInfoKey is the context key for storing ActorInfo. A fixed string
// key scoped to this package avoids collisions with other context values.
const actorInfoKey = "navigator_actor_info"

// ActorInfo is the acting user's identity as asserted by the gateway.
type ActorInfo struct {
	UserID string
	Role   string
}

// SetActorInfo stores the actor identity in the Gin context.
func SetActorInfo(c *gin.Context, info *ActorInfo) {
	c.Set(actorInfoKey, info)
}

// GetActorInfo retrieves the actor identity, or nil when the request
// carried no actor headers.
func GetActorInfo(c *gin.Context) *ActorInfo {
	if info, exists := c.Get(actorInfoKey); exists {
		if actorInfo, ok := info.(*ActorInfo); ok {
			return actorInfo
		}
	}
	return nil
}

// ActorMiddleware reads the X-Actor headers into the request context.
// Requests without the headers pass through untouched; handlers that
// require an actor reject those themselves.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderActorUserID))
		role := strings.TrimSpace(c.GetHeader(HeaderActorRole))
		if userID != "" || role != "" {
			SetActorInfo(c, &ActorInfo{UserID: userID, Role: role})
		}
		c.Next()
	}
}

package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// SessionContextKey holds the ExposedSession of an authenticated request.
	SessionContextKey = "auth_session"
	// UserIDContextKey holds the application user id of an authenticated request.
	UserIDContextKey = "auth_user_id"
)

// RequireSession advances the session cookie and rejects anonymized sessions.
func RequireSession(configuration ServerConfig, dependencies RouteDependencies) gin.HandlerFunc {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := sessionResolver{
		configuration: configuration,
		orchestrator:  dependencies.Orchestrator,
		codec:         dependencies.Codec,
		logger:        logger,
	}
	return func(contextGin *gin.Context) {
		exposed, sessionToken, found := sessions.resolve(contextGin)
		if !found || exposed.Anonymous() {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(SessionContextKey, exposed)
		contextGin.Set(UserIDContextKey, sessionToken.UserID)
		contextGin.Next()
	}
}

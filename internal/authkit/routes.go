package authkit

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteDependencies bundles the collaborators mounted by MountAuthRoutes.
type RouteDependencies struct {
	Orchestrator *Orchestrator
	Codec        *SessionCodec
	Nonces       NonceStore
	Logger       *zap.Logger
}

// MountAuthRoutes registers /auth/nonce, /auth/google, /auth/session, /auth/refresh, and /auth/logout.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, dependencies RouteDependencies) {
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

	router.POST("/auth/nonce", func(contextGin *gin.Context) {
		nonce, issueErr := dependencies.Nonces.Issue(contextGin)
		if issueErr != nil {
			logger.Error("nonce issue failed", zap.String("code", "auth.nonce.issue_failed"), zap.Error(issueErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Header("Cache-Control", "no-store")
		contextGin.JSON(http.StatusOK, gin.H{"nonce": nonce})
	})

	router.POST("/auth/google", func(contextGin *gin.Context) {
		var inbound struct {
			IDToken      string `json:"id_token"`
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresAt    int64  `json:"expires_at"`
			Nonce        string `json:"nonce"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.IDToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		if inbound.Nonce != "" {
			if consumeErr := dependencies.Nonces.Consume(contextGin, inbound.Nonce); consumeErr != nil {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_nonce"})
				return
			}
		}

		sessionToken, signInErr := dependencies.Orchestrator.SignIn(contextGin, ProviderAccount{
			IDToken:      inbound.IDToken,
			AccessToken:  inbound.AccessToken,
			RefreshToken: inbound.RefreshToken,
			ExpiresAt:    inbound.ExpiresAt,
			Nonce:        inbound.Nonce,
		})
		if signInErr != nil {
			if errors.Is(signInErr, ErrInvalidAssertion) {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
				return
			}
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if !sessions.write(contextGin, sessionToken) {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, Materialize(sessionToken, configuration.SessionPolicy))
	})

	router.GET("/auth/session", func(contextGin *gin.Context) {
		exposed, _, _ := sessions.resolve(contextGin)
		contextGin.Header("Cache-Control", "no-store")
		contextGin.JSON(http.StatusOK, exposed)
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		applicationUserID, pair, reissueErr := dependencies.Orchestrator.Reissue(contextGin, inbound.RefreshToken)
		if reissueErr != nil {
			if errors.Is(reissueErr, ErrStoreFailure) {
				contextGin.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		if sessionToken, found := sessions.read(contextGin); found && sessionToken.UserID == applicationUserID {
			sessionToken.AccessTokenFromBackend = pair.AccessToken
			sessionToken.RefreshTokenFromBackend = pair.RefreshToken
			sessions.write(contextGin, sessionToken)
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"accessToken":          pair.AccessToken,
			"accessTokenExpiresAt": pair.AccessExpiresAt,
			"refreshToken":         pair.RefreshToken,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if sessionToken, found := sessions.read(contextGin); found {
			if signOutErr := dependencies.Orchestrator.SignOut(contextGin, sessionToken); signOutErr != nil {
				logger.Error("sign-out failed",
					zap.String("code", "auth.logout.revoke_failed"),
					zap.String("user_id", sessionToken.UserID),
					zap.Error(signOutErr))
			}
		}
		clearCookie(contextGin, configuration.SessionCookieName, configuration.CookieDomain, configuration.SameSiteMode)
		contextGin.Status(http.StatusNoContent)
	})
}

type sessionResolver struct {
	configuration ServerConfig
	orchestrator  *Orchestrator
	codec         *SessionCodec
	logger        *zap.Logger
}

// read decodes the session cookie; an unreadable cookie is treated as absent.
func (resolver sessionResolver) read(contextGin *gin.Context) (SessionToken, bool) {
	sessionCookie, cookieErr := contextGin.Request.Cookie(resolver.configuration.SessionCookieName)
	if cookieErr != nil || sessionCookie == nil || strings.TrimSpace(sessionCookie.Value) == "" {
		return SessionToken{}, false
	}
	sessionToken, decodeErr := resolver.codec.Decode(sessionCookie.Value)
	if decodeErr != nil {
		resolver.logger.Debug("session cookie rejected", zap.String("code", "session.cookie_invalid"), zap.Error(decodeErr))
		return SessionToken{}, false
	}
	return sessionToken, true
}

// resolve advances the caller's session and materializes what it may see.
func (resolver sessionResolver) resolve(contextGin *gin.Context) (ExposedSession, SessionToken, bool) {
	sessionToken, found := resolver.read(contextGin)
	if !found {
		return AnonymousSession(), SessionToken{}, false
	}
	if sessionToken.AccessTokenFromBackend == "" {
		resolver.logger.Debug("session without backend token",
			zap.String("code", "session.missing_backend_token"),
			zap.Error(ErrMissingBackendToken))
		return AnonymousSession(), sessionToken, true
	}
	advanced := resolver.orchestrator.Advance(contextGin, sessionToken)
	if advanced != sessionToken {
		resolver.write(contextGin, advanced)
	}
	return Materialize(advanced, resolver.configuration.SessionPolicy), advanced, true
}

func (resolver sessionResolver) write(contextGin *gin.Context, sessionToken SessionToken) bool {
	encoded, expiresAt, encodeErr := resolver.codec.Encode(sessionToken)
	if encodeErr != nil {
		resolver.logger.Error("session encode failed", zap.String("code", "session.encode_failed"), zap.Error(encodeErr))
		return false
	}
	writeSessionCookie(contextGin, resolver.configuration, encoded, expiresAt)
	return true
}

func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, sessionToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   true,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearCookie(contextGin *gin.Context, name string, domain string, sameSite http.SameSite) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: sameSite,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
	// browsers cannot set headers on download links and WebSocket upgrades
	accessTokenQuery = "access_token"
	userCtx          = "userId"

	errMissingAuth  = "missing Authorization header"
	errAuthFormat   = "invalid Authorization header format"
	errInvalidToken = "invalid or expired token"
)

// bearerToken extracts the token from "Authorization: Bearer <t>", falling
// back to ?access_token=. The scheme is matched case-insensitively.
func bearerToken(c *gin.Context) (string, string) {
	header := c.GetHeader(authorizationHeader)
	if header == "" {
		if t := strings.TrimSpace(c.Query(accessTokenQuery)); t != "" {
			return t, ""
		}
		return "", errMissingAuth
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, bearerScheme) || token == "" {
		return "", errAuthFormat
	}
	return token, ""
}

func (h *Handler) userIdMiddleware(c *gin.Context) {
	token, reason := bearerToken(c)
	if reason != "" {
		h.rejectAuth(c, reason, nil)
		return
	}

	userId, err := h.services.ParseToken(token)
	if err != nil {
		h.rejectAuth(c, errInvalidToken, err)
		return
	}

	c.Set(userCtx, userId)
	c.Next()
}

func (h *Handler) rejectAuth(c *gin.Context, reason string, err error) {
	if h.log != nil {
		h.log.Infow("auth_rejected", "path", c.FullPath(), "reason", reason, "err", err)
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// getUserID returns the id stored by userIdMiddleware.
func getUserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(userCtx)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

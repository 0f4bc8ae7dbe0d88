package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ivr-platform/internal/audit"
	"ivr-platform/internal/auth"
	"ivr-platform/internal/calls"
	"ivr-platform/internal/rbac"
	"ivr-platform/pkg/logger"
)

// Handlers groups operator API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth  *auth.Manager
	Calls *calls.Store
	Audit *audit.Service
}

const maxListLimit = 500

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// ListCalls lists sessions of the caller's user. super_admin may pass
// ?user_id= to read another user's sessions, or omit it to read all.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)

	f := calls.ListFilter{UserID: uid}
	if v := c.Query("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "open must be a boolean"})
			return
		}
		f.OpenOnly = open
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be 1..%d", maxListLimit)})
			return
		}
		f.Limit = n
	}
	if rbac.IsSuperAdmin(role) {
		f.UserID = 0
		if v := c.Query("user_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
				return
			}
			f.UserID = n
		}
		h.auditAccess(c, "list calls", gin.H{"user_id": f.UserID, "open": f.OpenOnly})
	}

	sessions, err := h.Calls.List(ctx, f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if sessions == nil {
		sessions = []*calls.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions, "count": len(sessions)})
}

// GetCall returns one session with its full history. Sessions of other
// users look absent unless the caller is super_admin.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)

	id := c.Param("provider_call_id")
	sess, err := h.Calls.Lookup(ctx, id)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "call_sid", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if sess.UserID != uid {
		if !rbac.IsSuperAdmin(role) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		h.auditAccess(c, "read call", gin.H{"call_sid": id, "user_id": sess.UserID})
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) auditAccess(c *gin.Context, message string, metadata gin.H) {
	if h.Audit == nil {
		return
	}
	meta, _ := json.Marshal(metadata)
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if err := h.Audit.LogOperatorAccess(ctx, uid, role, c.ClientIP(), message, string(meta)); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// RequireUserAndAnyRole bundles the middleware every operator route uses.
func RequireUserAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireUser(), rbac.RequireAnyRole(roles...)}
}

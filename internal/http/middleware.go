package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"shopsys/internal/domain"
)

const (
	sessionName   = "shop_session"
	sessionUser   = "user"
	sessionRole   = "role"
	ctxRequestID  = "request_id"
	ctxUser       = "user"
	ctxRole       = "role"
	requestHeader = "X-Request-ID"
)

// requestLogger tags each request with an id and writes an access log line
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestHeader, id)

		c.Next()

		fields := log.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		}
		if user := c.GetString(ctxUser); user != "" {
			fields["user"] = user
		}
		e := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			e.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			e.Warn("request")
		default:
			e.Info("request")
		}
	}
}

// requireSession rejects requests without a logged-in user
func (s *Server) requireSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Request, sessionName)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}
	user, _ := session.Values[sessionUser].(string)
	role, _ := session.Values[sessionRole].(string)
	if user == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}
	c.Set(ctxUser, user)
	c.Set(ctxRole, role)
	c.Next()
}

// requireAdmin must run after requireSession
func (s *Server) requireAdmin(c *gin.Context) {
	if domain.Role(c.GetString(ctxRole)) != domain.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	c.Next()
}

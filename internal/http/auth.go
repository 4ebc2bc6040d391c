package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// NewSessionStore keeps the session in a signed cookie
func NewSessionStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   8 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

type loginReq struct {
	Username string `json:"username" binding:"required,max=100"`
	Password string `json:"password" binding:"required"`
}

type userResp struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param input body loginReq true "Credentials"
// @Success 200 {object} userResp
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /login [post]
func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := s.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	session, _ := s.sessions.Get(c.Request, sessionName)
	session.Values[sessionUser] = u.Username
	session.Values[sessionRole] = string(u.Role)
	if err := session.Save(c.Request, c.Writer); err != nil {
		fail(c, err)
		return
	}
	entry(c).WithField("user", u.Username).Info("logged in")
	c.JSON(http.StatusOK, userResp{Username: u.Username, Role: string(u.Role)})
}

// @Summary Log out
// @Tags auth
// @Success 204
// @Router /logout [post]
func (s *Server) logout(c *gin.Context) {
	session, _ := s.sessions.Get(c.Request, sessionName)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	if err := session.Save(c.Request, c.Writer); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Current user
// @Tags auth
// @Produce json
// @Success 200 {object} userResp
// @Failure 401 {object} map[string]string
// @Router /me [get]
func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, userResp{Username: c.GetString(ctxUser), Role: c.GetString(ctxRole)})
}

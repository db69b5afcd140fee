package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
)

type loginRequest struct {
	Endpoint string `json:"endpoint"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

type oauthRequest struct {
	Endpoint string `json:"endpoint"`
}

// handleGetStatus returns a snapshot of the whole session.
func (s *Server) handleGetStatus(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleLogin stores the credentials and starts a login. The result
// arrives asynchronously as a logged_in or login_failed event.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ok := s.do(c, func(st *bancho.State) error {
		vars := st.Vars()
		if req.Endpoint != "" {
			if err := vars.Set(config.VarServer, req.Endpoint); err != nil {
				return err
			}
		}
		if err := vars.Set(config.VarName, req.Username); err != nil {
			return err
		}
		if req.Password != "" {
			if err := vars.Set(config.VarPassword, req.Password); err != nil {
				return err
			}
			// a password login replaces any stored token
			if err := vars.SetInternal(config.VarOAuthToken, ""); err != nil {
				return err
			}
		}
		st.Reconnect(ctx)
		return nil
	})
	if !ok {
		return
	}

	log.Info().Str("username", req.Username).Str("endpoint", req.Endpoint).Msg("Login requested via API")
	c.JSON(http.StatusAccepted, gin.H{"status": "logging_in"})
}

// handleLogout ends the session and disables autologin.
func (s *Server) handleLogout(c *gin.Context) {
	ctx := c.Request.Context()
	ok := s.do(c, func(st *bancho.State) error {
		st.Disconnect(ctx)
		return st.Vars().SetInternal(config.VarAutologin, "false")
	})
	if !ok {
		return
	}

	log.Info().Msg("Logout requested via API")
	c.JSON(http.StatusOK, gin.H{"status": "offline"})
}

// handleBeginOAuth returns the URL to open in a browser. The browser is
// sent back to /api/public/oauth/callback.
func (s *Server) handleBeginOAuth(c *gin.Context) {
	var req oauthRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Endpoint == "" && s.vars != nil {
		req.Endpoint = s.vars.GetString(config.VarServer)
	}

	link, err := s.client.BeginOAuth(c.Request.Context(), req.Endpoint)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link, "endpoint": req.Endpoint})
}

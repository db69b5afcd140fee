package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "neosu",
		"version": util.Version,
	})
}

// handleGetVersion returns the client and protocol versions.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":          util.Version,
		"protocol_version": protocol.ProtocolVersion,
		"name":             "neosu",
	})
}

// handleGetSystemInfo returns host information plus memory and disk usage
// of the data directory.
func (s *Server) handleGetSystemInfo(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}

	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if dataDir := s.cfg.DataDir(); dataDir != "" {
		if disk, err := util.GetDiskUsage(dataDir); err == nil {
			resp["disk"] = disk
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleOAuthCallback is where the browser lands after an OAuth login.
// It is public because the browser does not carry the API token.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	endpoint := c.Query("endpoint")
	if endpoint == "" && s.vars != nil {
		endpoint = s.vars.GetString(config.VarServer)
	}
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}

	if err := s.client.FinishOAuth(c.Request.Context(), endpoint, code); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("OAuth login failed via API")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("endpoint", endpoint).Msg("OAuth login completed via API")
	c.JSON(http.StatusOK, gin.H{"message": "logged in, you can close this tab"})
}

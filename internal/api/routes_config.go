package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
)

const redacted = "********"

type setVarRequest struct {
	Value string `json:"value"`
}

// handleGetConfig returns the configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	b := s.cfg.GetBancho()
	if b.Password != "" {
		b.Password = redacted
	}
	if b.OAuthToken != "" {
		b.OAuthToken = redacted
	}
	app := s.cfg.GetApplicationData()
	if app.API.AuthToken != "" {
		app.API.AuthToken = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"bancho":           b,
		"application_data": app,
	})
}

// handleGetVars lists the visible client variables.
func (s *Server) handleGetVars(c *gin.Context) {
	var vars []config.Var
	if !s.do(c, func(st *bancho.State) error {
		vars = st.Vars().List()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"vars": vars})
}

// handleSetVar changes a variable as the user would. Variables the server
// protected or forced answer 403.
func (s *Server) handleSetVar(c *gin.Context) {
	name := c.Param("name")
	var req setVarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var updated config.Var
	if !s.do(c, func(st *bancho.State) error {
		if v, ok := st.Vars().Get(name); !ok || v.Flags&config.FlagHidden != 0 {
			return config.ErrUnknownVar
		}
		if err := st.Vars().Set(name, req.Value); err != nil {
			return err
		}
		updated, _ = st.Vars().Get(name)
		return nil
	}) {
		return
	}

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventVarsChanged,
		Source: "api",
		Payload: events.VarsChangedPayload{
			Operation: "set",
			Names:     []string{name},
		},
	})

	log.Info().Str("var", name).Str("value", updated.Value).Msg("Variable changed via API")
	c.JSON(http.StatusOK, updated)
}

// handleSetAppData validates and persists new daemon settings. Most of
// them take effect on the next start.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if appData.API.AuthToken == redacted {
		appData.API.AuthToken = s.cfg.GetApplicationData().API.AuthToken
	}

	candidate := config.DefaultConfig()
	candidate.Bancho = s.cfg.GetBancho()
	candidate.ApplicationData = appData
	if result := config.Validate(candidate); !result.IsValid() {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": msgs})
		return
	}

	s.cfg.SetApplicationData(appData)

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "application_data",
		},
	})

	log.Info().Msg("Application settings updated via API")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
	})
}

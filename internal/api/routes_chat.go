package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neosu-project/neosu/internal/bancho"
)

type channelRequest struct {
	Channel string `json:"channel" binding:"required"`
}

type sendRequest struct {
	Target string `json:"target" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

func (s *Server) handleGetChannels(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": snap.Channels})
}

// handleGetHistory returns the messages of ?channel=.
func (s *Server) handleGetHistory(c *gin.Context) {
	name := c.Query("channel")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel"})
		return
	}

	var (
		history []bancho.ChatMessage
		found   bool
	)
	ok := s.do(c, func(st *bancho.State) error {
		_, found = st.Chat().Get(name)
		history = st.Chat().History(name)
		return nil
	})
	if !ok {
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	if history == nil {
		history = []bancho.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"channel": name, "messages": history})
}

func (s *Server) handleJoinChannel(c *gin.Context) {
	s.channelCommand(c, func(st *bancho.State, name string) error {
		if !st.IsOnline() {
			return bancho.ErrOffline
		}
		st.JoinChannel(name)
		return nil
	})
}

func (s *Server) handlePartChannel(c *gin.Context) {
	s.channelCommand(c, func(st *bancho.State, name string) error {
		if !st.IsOnline() {
			return bancho.ErrOffline
		}
		st.PartChannel(name)
		return nil
	})
}

func (s *Server) handleMarkAsRead(c *gin.Context) {
	s.channelCommand(c, func(st *bancho.State, name string) error {
		st.MarkAsRead(name)
		return nil
	})
}

func (s *Server) channelCommand(c *gin.Context, fn func(*bancho.State, string) error) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.do(c, func(st *bancho.State) error { return fn(st, req.Channel) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": req.Channel})
}

// handleSendMessage sends to a #channel or, for any other target, a user.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.do(c, func(st *bancho.State) error { return st.SendMessage(req.Target, req.Text) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

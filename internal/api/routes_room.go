package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/protocol"
)

type createRoomRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password"`
	Mode     uint8  `json:"mode"`
}

type joinRoomRequest struct {
	ID       int32  `json:"id" binding:"required"`
	Password string `json:"password"`
}

// roomActionRequest carries the argument of /room/action/:action. Only the
// field the action reads needs to be set.
type roomActionRequest struct {
	Slot     int32  `json:"slot"`
	Mods     uint32 `json:"mods"`
	UserID   int32  `json:"user_id"`
	Password string `json:"password"`
}

func (s *Server) handleGetLobby(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	rooms := snap.LobbyRooms
	if rooms == nil {
		rooms = []protocol.Room{}
	}
	c.JSON(http.StatusOK, gin.H{"visible": snap.InLobby, "rooms": rooms})
}

func (s *Server) handleJoinLobby(c *gin.Context) {
	if !s.do(c, func(st *bancho.State) error { return st.JoinLobby() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": true})
}

func (s *Server) handleExitLobby(c *gin.Context) {
	if !s.do(c, func(st *bancho.State) error {
		st.ExitLobby()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": false})
}

// handleGetRoom returns the joined room and the last match results.
func (s *Server) handleGetRoom(c *gin.Context) {
	var (
		room    protocol.Room
		started bool
		last    [protocol.NumSlots]protocol.Slot
	)
	if !s.do(c, func(st *bancho.State) error {
		room = st.Room()
		started = st.MatchStarted()
		last = st.LastScores()
		return nil
	}) {
		return
	}
	if !room.IsInARoom() {
		c.JSON(http.StatusNotFound, gin.H{"error": bancho.ErrNotInRoom.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "match_started": started, "last_scores": last})
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := s.do(c, func(st *bancho.State) error {
		room := protocol.Room{
			Name:        req.Name,
			Password:    req.Password,
			HasPassword: req.Password != "",
			HostID:      st.UserID(),
			Mode:        protocol.GameMode(req.Mode),
		}
		for i := range room.Slots {
			room.Slots[i].Status = protocol.SlotOpen
		}
		return st.CreateRoom(room)
	})
	if !ok {
		return
	}

	log.Info().Str("name", req.Name).Msg("Room creation requested via API")
	c.JSON(http.StatusAccepted, gin.H{"status": "creating"})
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.do(c, func(st *bancho.State) error { return st.JoinRoom(req.ID, req.Password) }) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "joining", "id": req.ID})
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	if !s.do(c, func(st *bancho.State) error {
		if !st.IsInRoom() {
			return bancho.ErrNotInRoom
		}
		st.RagequitRoom()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

// handleRoomAction runs one of the in-room commands named by :action.
func (s *Server) handleRoomAction(c *gin.Context) {
	action := c.Param("action")
	var req roomActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cmd, err := roomAction(action, req)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !s.do(c, cmd) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action})
}

func roomAction(action string, req roomActionRequest) (func(*bancho.State) error, error) {
	switch action {
	case "ready":
		return (*bancho.State).Ready, nil
	case "not_ready":
		return (*bancho.State).NotReady, nil
	case "start":
		return (*bancho.State).StartMatch, nil
	case "team":
		return (*bancho.State).ChangeTeam, nil
	case "skip":
		return (*bancho.State).SkipRequest, nil
	case "has_map":
		return (*bancho.State).HasBeatmap, nil
	case "no_map":
		return (*bancho.State).NoBeatmap, nil
	case "slot":
		return func(st *bancho.State) error { return st.ChangeSlot(req.Slot) }, nil
	case "lock":
		return func(st *bancho.State) error { return st.LockSlot(req.Slot) }, nil
	case "host":
		return func(st *bancho.State) error { return st.TransferHost(req.Slot) }, nil
	case "mods":
		return func(st *bancho.State) error { return st.ChangeMods(req.Mods) }, nil
	case "invite":
		return func(st *bancho.State) error { return st.InviteToRoom(req.UserID) }, nil
	case "password":
		return func(st *bancho.State) error { return st.ChangePassword(req.Password) }, nil
	default:
		return nil, fmt.Errorf("unknown room action %q", action)
	}
}

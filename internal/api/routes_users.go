package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/connector"
)

func userIDParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return int32(id), true
}

// handleGetUsers lists every cached user, or only friends with
// ?friends=true.
func (s *Server) handleGetUsers(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	users := snap.Users
	if c.Query("friends") == "true" {
		friends := make([]bancho.UserInfo, 0, len(snap.Friends))
		for _, u := range users {
			if u.IsFriend {
				friends = append(friends, u)
			}
		}
		users = friends
	}
	if users == nil {
		users = []bancho.UserInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// handleGetUser returns one user. Unknown users are queued for a presence
// request, so a later call usually succeeds.
func (s *Server) handleGetUser(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	var (
		info  bancho.UserInfo
		found bool
	)
	if !s.do(c, func(st *bancho.State) error {
		var u *bancho.UserInfo
		u, found = st.Users().TryGetUserInfo(id)
		if !found {
			st.Users().GetUserInfo(id, true)
			return nil
		}
		info = *u
		return nil
	}) {
		return
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not known yet", "requested": true})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGetAvatar serves the cached avatar image.
func (s *Server) handleGetAvatar(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if s.avatars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "avatar cache disabled"})
		return
	}

	var endpoint string
	if !s.do(c, func(st *bancho.State) error {
		endpoint = st.Endpoint()
		if endpoint == "" {
			return bancho.ErrOffline
		}
		return nil
	}) {
		return
	}

	data, err := s.avatars.Get(c.Request.Context(), endpoint, id)
	if errors.Is(err, connector.ErrNoAvatar) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) handleAddFriend(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if !s.do(c, func(st *bancho.State) error { return st.FriendAdd(id) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "is_friend": true})
}

func (s *Server) handleRemoveFriend(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if !s.do(c, func(st *bancho.State) error { return st.FriendRemove(id) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "is_friend": false})
}

func (s *Server) handleStartSpectating(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if !s.do(c, func(st *bancho.State) error { return st.StartSpectating(id) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"spectating": id})
}

func (s *Server) handleStopSpectating(c *gin.Context) {
	if !s.do(c, func(st *bancho.State) error {
		st.StopSpectating()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"spectating": nil})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/protocol"
)

type fetchLeaderboardRequest struct {
	Filename string `json:"filename"`
	SetID    int32  `json:"set_id"`
	Mods     uint32 `json:"mods"`
}

type downloadReplayRequest struct {
	MapMD5 string `json:"map_md5" binding:"required"`
}

func md5Param(c *gin.Context) (protocol.MD5Hash, bool) {
	raw := c.Param("md5")
	if len(raw) != 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid beatmap md5"})
		return protocol.MD5Hash{}, false
	}
	return protocol.ParseMD5Hash(raw), true
}

func (s *Server) requireScoreDB(c *gin.Context) bool {
	if s.scores == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "score database disabled"})
		return false
	}
	return true
}

// handleGetLeaderboard returns the cached online leaderboard of a map.
func (s *Server) handleGetLeaderboard(c *gin.Context) {
	md5, ok := md5Param(c)
	if !ok || !s.requireScoreDB(c) {
		return
	}

	list, err := s.scores.OnlineScores(md5.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"map_md5": md5, "scores": list})
}

// handleFetchLeaderboard asks the server for a fresh leaderboard. The
// result lands in the cache and is announced with a leaderboard event.
func (s *Server) handleFetchLeaderboard(c *gin.Context) {
	md5, ok := md5Param(c)
	if !ok {
		return
	}
	var req fetchLeaderboardRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !s.do(c, func(st *bancho.State) error {
		return st.FetchOnlineScores(md5, req.Filename, req.SetID, req.Mods)
	}) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "fetching", "map_md5": md5})
}

// handleGetReplays lists downloaded replays, newest first.
func (s *Server) handleGetReplays(c *gin.Context) {
	if !s.requireScoreDB(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	list, err := s.scores.Replays(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []db.Replay{}
	}
	c.JSON(http.StatusOK, gin.H{"replays": list})
}

// handleDownloadReplay queues the download of an online replay.
func (s *Server) handleDownloadReplay(c *gin.Context) {
	scoreID, err := strconv.ParseInt(c.Param("score_id"), 10, 64)
	if err != nil || scoreID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid score id"})
		return
	}
	var req downloadReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.do(c, func(st *bancho.State) error {
		return st.DownloadReplay(scoreID, protocol.ParseMD5Hash(req.MapMD5))
	}) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "downloading", "score_id": scoreID})
}

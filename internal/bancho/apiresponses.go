package bancho

import (
	"strings"
	"time"

	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/scores"
)

// FetchOnlineScores asks for the leaderboard of a map. The result lands in
// the score cache and is announced with EventLeaderboard.
func (s *State) FetchOnlineScores(md5 protocol.MD5Hash, filename string, setID int32, mods uint32) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	s.sendAPI(connector.APIRequest{
		Type:    connector.APIGetMapLeaderboard,
		Path:    connector.LeaderboardPath(s.credentials(), md5, filename, setID, mods),
		Context: connector.LeaderboardContext{MapMD5: md5},
	})
	return nil
}

// DownloadReplay fetches the replay of an online score.
func (s *State) DownloadReplay(scoreID int64, mapMD5 protocol.MD5Hash) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	s.sendAPI(connector.APIRequest{
		Type: connector.APIGetReplay,
		Path: connector.ReplayPath(s.credentials(), scoreID),
		Context: connector.ReplayContext{
			ScoreID:   scoreID,
			MapMD5:    mapMD5,
			Server:    s.Endpoint(),
			Timestamp: time.Now().Unix(),
		},
	})
	return nil
}

// SubmitScore uploads a finished play. The form is built by the game and
// sent as is; nothing is queued when the server refuses submissions.
func (s *State) SubmitScore(mapMD5 protocol.MD5Hash, form *connector.MultipartForm) bool {
	if !s.IsOnline() || !s.CanSubmitScores() {
		return false
	}
	s.sendAPI(connector.APIRequest{
		Type:    connector.APISubmitScore,
		Path:    connector.SubmitScorePath,
		Form:    form,
		Context: connector.SubmitScoreContext{MapMD5: mapMD5},
	})
	return true
}

// HandleAPIResponse applies a finished web API request.
func (s *State) HandleAPIResponse(resp connector.APIResponse) {
	switch ctx := resp.Request.Context.(type) {
	case connector.LeaderboardContext:
		s.onLeaderboard(ctx, resp)
	case connector.ReplayContext:
		s.onReplay(ctx, resp)
	case connector.SettingsContext:
		s.onServerSettings(resp)
	case connector.SubmitScoreContext:
		s.onScoreSubmitted(ctx, resp)
	case connector.SubmitMapContext:
		s.logger.Info().Str("md5", ctx.MD5.String()).Int("status", resp.StatusCode).Msg("Map upload finished")
	case connector.MarkAsReadContext:
		if !resp.OK() {
			s.logger.Debug().Str("channel", ctx.Channel).Int("status", resp.StatusCode).Msg("Mark as read failed")
		}
	default:
		s.logger.Debug().Str("type", resp.Request.Type.String()).Msg("API response without context")
	}
}

func (s *State) onLeaderboard(ctx connector.LeaderboardContext, resp connector.APIResponse) {
	if !resp.OK() {
		s.logger.Warn().Str("md5", ctx.MapMD5.String()).Int("status", resp.StatusCode).Msg("Leaderboard request failed")
		return
	}

	md5 := ctx.MapMD5.String()
	lb, err := scores.ParseLeaderboard(resp.Body, md5, s.Endpoint())
	if err != nil {
		s.logger.Warn().Err(err).Str("md5", md5).Msg("Failed to parse leaderboard")
		return
	}

	for _, sc := range lb.Scores {
		user := s.users.GetUserInfo(sc.PlayerID, false)
		if !user.HasPresence {
			user.Name = sc.PlayerName
		}
		// everyone on a leaderboard is at least a normal player
		user.Privileges |= 1
	}

	if s.scoreDB != nil {
		if err := s.scoreDB.ReplaceOnlineScores(md5, lb.Scores); err != nil {
			s.logger.Error().Err(err).Str("md5", md5).Msg("Failed to cache leaderboard")
		}
	}

	s.emit(events.EventLeaderboard, events.LeaderboardPayload{MapMD5: md5, Count: len(lb.Scores)})
}

func (s *State) onReplay(ctx connector.ReplayContext, resp connector.APIResponse) {
	if !resp.OK() {
		s.logger.Warn().Int64("score_id", ctx.ScoreID).Int("status", resp.StatusCode).Msg("Replay download failed")
		s.toast(events.ToastError, "Failed to download replay")
		return
	}

	path, err := scores.SaveReplay(s.dataDir, ctx.Server, ctx.Timestamp, resp.Body)
	if err != nil {
		s.logger.Error().Err(err).Int64("score_id", ctx.ScoreID).Msg("Failed to save replay")
		s.toast(events.ToastError, "Failed to save replay")
		return
	}

	if s.scoreDB != nil {
		_, err := s.scoreDB.AddReplay(db.Replay{
			ScoreID:   ctx.ScoreID,
			MapMD5:    ctx.MapMD5.String(),
			Server:    ctx.Server,
			Path:      path,
			Timestamp: ctx.Timestamp,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("Failed to index replay")
		}
	}

	s.logger.Info().Int64("score_id", ctx.ScoreID).Str("path", path).Msg("Replay downloaded")
	s.emit(events.EventReplayDownloaded, events.ReplayPayload{ScoreID: ctx.ScoreID, Path: path})
}

func (s *State) onServerSettings(resp connector.APIResponse) {
	if !resp.OK() {
		s.logger.Debug().Int("status", resp.StatusCode).Msg("Server has no neosu.json")
		return
	}

	overrides, errs, err := s.vars.ApplyServerSettings(resp.Body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to apply server settings")
		return
	}
	s.logger.Info().Msgf("Received server settings (%d overrides, %d errors)", overrides, errs)
	s.emit(events.EventVarsChanged, events.VarsChangedPayload{Operation: "settings"})
}

func (s *State) onScoreSubmitted(ctx connector.SubmitScoreContext, resp connector.APIResponse) {
	body := strings.TrimSpace(string(resp.Body))
	accepted := resp.OK() && !strings.HasPrefix(body, "error")
	if !accepted {
		s.logger.Warn().Int("status", resp.StatusCode).Str("response", body).Msg("Score submission failed")
		s.toast(events.ToastError, "Failed to submit score")
	}
	s.emit(events.EventScoreSubmitted, events.ScoreSubmittedPayload{
		MapMD5:   ctx.MapMD5.String(),
		Accepted: accepted,
		Response: body,
	})
}

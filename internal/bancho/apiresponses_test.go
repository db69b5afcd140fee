package bancho

import (
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

const leaderboardBody = "2|false|1234|567|2|0|\n" +
	"0\n" +
	"[bold:0,size:20]Artist|Title\n" +
	"9.1\n" +
	"\n" +
	"11|alice|1000000|500|0|2|700|1|0|50|0|72|3|1|1700000000|1\n" +
	"12|bob|900000|450|1|3|690|2|5|40|1|0|4|2|1700000100|1\n"

func response(req connector.APIRequest, status int, body string) connector.APIResponse {
	return connector.APIResponse{Request: req, StatusCode: status, Body: []byte(body)}
}

func TestFetchOnlineScores(t *testing.T) {
	env := newTestEnv(t)
	md5 := protocol.HashString("map")
	assert.ErrorIs(t, env.state.FetchOnlineScores(md5, "map.osu", 1, 0), ErrOffline)

	env.login(t)
	require.NoError(t, env.state.FetchOnlineScores(md5, "map.osu", 567, 72))
	require.Len(t, env.net.api, 1)
	req := env.net.api[0]
	assert.Equal(t, connector.APIGetMapLeaderboard, req.Type)
	assert.Contains(t, req.Path, "&c="+md5.String())
	assert.Contains(t, req.Path, "&mods=72")
	assert.Equal(t, connector.LeaderboardContext{MapMD5: md5}, req.Context)
}

func TestLeaderboardResponse(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktUserPresence, presencePayload(3, "Alice"))

	md5 := protocol.HashString("map")
	req := connector.APIRequest{Type: connector.APIGetMapLeaderboard, Context: connector.LeaderboardContext{MapMD5: md5}}
	env.state.HandleAPIResponse(response(req, http.StatusOK, leaderboardBody))

	cached := env.scores.leaderboards[md5.String()]
	require.Len(t, cached, 2)
	assert.Equal(t, "neosu.test", cached[0].Server)

	alice, _ := env.state.users.TryGetUserInfo(3)
	assert.Equal(t, "Alice", alice.Name, "presence names win over leaderboard names")
	bob, ok := env.state.users.TryGetUserInfo(4)
	require.True(t, ok)
	assert.Equal(t, "bob", bob.Name)
	assert.Equal(t, uint8(1), bob.Privileges&1)

	lb := env.bus.ofType(events.EventLeaderboard)
	require.Len(t, lb, 1)
	assert.Equal(t, events.LeaderboardPayload{MapMD5: md5.String(), Count: 2}, lb[0].Payload)
}

func TestLeaderboardFailure(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	req := connector.APIRequest{Context: connector.LeaderboardContext{MapMD5: protocol.HashString("map")}}
	env.state.HandleAPIResponse(response(req, http.StatusInternalServerError, "oops"))
	env.state.HandleAPIResponse(response(req, http.StatusOK, ""))

	assert.Empty(t, env.scores.leaderboards)
	assert.Empty(t, env.bus.ofType(events.EventLeaderboard))
}

func TestReplayDownload(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	require.NoError(t, env.state.DownloadReplay(99, protocol.HashString("map")))
	require.Len(t, env.net.api, 1)
	req := env.net.api[0]
	ctx := req.Context.(connector.ReplayContext)
	assert.Equal(t, int64(99), ctx.ScoreID)
	assert.Equal(t, "neosu.test", ctx.Server)
	assert.NotZero(t, ctx.Timestamp)

	env.state.HandleAPIResponse(response(req, http.StatusOK, "lzma bytes"))

	require.Len(t, env.scores.replays, 1)
	saved := env.scores.replays[0]
	assert.Equal(t, int64(99), saved.ScoreID)
	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, "lzma bytes", string(data))
	assert.Len(t, env.bus.ofType(events.EventReplayDownloaded), 1)
}

func TestReplayDownloadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	req := connector.APIRequest{Context: connector.ReplayContext{ScoreID: 1, Server: "neosu.test", Timestamp: 5}}
	env.state.HandleAPIResponse(response(req, http.StatusNotFound, ""))

	assert.Empty(t, env.scores.replays)
	assert.Equal(t, []string{"Failed to download replay"}, env.bus.toasts())
}

func TestServerSettingsResponse(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	body := `{"` + config.VarFPoSu + `": {"default": true, "unlock_singleplayer": false}}`
	env.state.HandleAPIResponse(response(connector.APIRequest{Context: connector.SettingsContext{}}, http.StatusOK, body))

	v, ok := env.vars.Get(config.VarFPoSu)
	require.True(t, ok)
	assert.Equal(t, "true", v.Default)
	assert.Len(t, env.bus.ofType(events.EventVarsChanged), 1)
}

func TestSubmitScore(t *testing.T) {
	env := newTestEnv(t)
	md5 := protocol.HashString("map")
	form := connector.NewMultipartForm().AddField("score", "x")
	assert.False(t, env.state.SubmitScore(md5, form), "offline")

	env.login(t)
	assert.False(t, env.state.SubmitScore(md5, form), "no submission without permission")

	env.state.ApplyFeatures(connector.Features{Policy: connector.PolicyYes})
	require.True(t, env.state.SubmitScore(md5, form))
	require.Len(t, env.net.api, 1)
	req := env.net.api[0]
	assert.Equal(t, connector.SubmitScorePath, req.Path)

	tests := []struct {
		name     string
		status   int
		body     string
		accepted bool
	}{
		{"accepted", http.StatusOK, "beatmapId:1|chartId:overall", true},
		{"rejected", http.StatusOK, "error: no", false},
		{"server error", http.StatusBadGateway, "bad gateway", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.bus.ofType(events.EventScoreSubmitted))
			env.state.HandleAPIResponse(response(req, tt.status, tt.body))
			submitted := env.bus.ofType(events.EventScoreSubmitted)
			require.Len(t, submitted, before+1)
			payload := submitted[before].Payload.(events.ScoreSubmittedPayload)
			assert.Equal(t, tt.accepted, payload.Accepted)
			assert.True(t, strings.HasPrefix(tt.body, payload.Response))
		})
	}
}

package bancho

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/scores"
	"github.com/neosu-project/neosu/internal/telemetry"
)

type sentPacket struct {
	ID      uint16
	Payload []byte
}

type fakeNet struct {
	packets []sentPacket
	api     []connector.APIRequest
	logouts int
	resets  int
}

func (n *fakeNet) SendPacket(id uint16, payload []byte) {
	n.packets = append(n.packets, sentPacket{ID: id, Payload: payload})
}

func (n *fakeNet) SendAPIRequest(req connector.APIRequest) {
	n.api = append(n.api, req)
}

func (n *fakeNet) Logout(context.Context) error {
	n.logouts++
	return nil
}

func (n *fakeNet) Reset() {
	n.resets++
	n.packets = nil
	n.api = nil
}

func (n *fakeNet) ids() []uint16 {
	out := make([]uint16, 0, len(n.packets))
	for _, p := range n.packets {
		out = append(out, p.ID)
	}
	return out
}

func (n *fakeNet) last() sentPacket {
	if len(n.packets) == 0 {
		return sentPacket{ID: 0xffff}
	}
	return n.packets[len(n.packets)-1]
}

type fakeGame struct {
	playing    bool
	playResult bool
	calls      []string
	played     []protocol.MD5Hash
}

func (g *fakeGame) IsPlaying() bool { return g.playing }

func (g *fakeGame) PlayMap(md5 protocol.MD5Hash, mods uint32) bool {
	g.calls = append(g.calls, "play")
	g.played = append(g.played, md5)
	if g.playResult {
		g.playing = true
	}
	return g.playResult
}

func (g *fakeGame) Stop() {
	g.calls = append(g.calls, "stop")
	g.playing = false
}

func (g *fakeGame) Pause()   { g.calls = append(g.calls, "pause") }
func (g *fakeGame) Unpause() { g.calls = append(g.calls, "unpause") }
func (g *fakeGame) Skip()    { g.calls = append(g.calls, "skip") }
func (g *fakeGame) Fail()    { g.calls = append(g.calls, "fail") }

type fakeMaps struct {
	files map[protocol.MD5Hash][]byte
}

func (m *fakeMaps) HasMap(md5 protocol.MD5Hash) bool {
	_, ok := m.files[md5]
	return ok
}

func (m *fakeMaps) MapFile(md5 protocol.MD5Hash) ([]byte, string, error) {
	data, ok := m.files[md5]
	if !ok {
		return nil, "", ErrMapNotFound
	}
	return data, "test.osu", nil
}

type fakeScores struct {
	leaderboards map[string][]scores.Score
	replays      []db.Replay
}

func (f *fakeScores) ReplaceOnlineScores(mapMD5 string, list []scores.Score) error {
	f.leaderboards[mapMD5] = list
	return nil
}

func (f *fakeScores) AddReplay(r db.Replay) (int64, error) {
	f.replays = append(f.replays, r)
	return int64(len(f.replays)), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) ofType(t events.EventType) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (e *recordingEmitter) ofTypes(types ...events.EventType) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func (e *recordingEmitter) toasts() []string {
	var out []string
	for _, ev := range e.ofType(events.EventToast) {
		out = append(out, ev.Payload.(events.ToastPayload).Message)
	}
	return out
}

type testEnv struct {
	state  *State
	net    *fakeNet
	game   *fakeGame
	maps   *fakeMaps
	scores *fakeScores
	bus    *recordingEmitter
	vars   *config.Vars
}

const testUserID int32 = 1000

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		net:    &fakeNet{},
		game:   &fakeGame{},
		maps:   &fakeMaps{files: make(map[protocol.MD5Hash][]byte)},
		scores: &fakeScores{leaderboards: make(map[string][]scores.Score)},
		bus:    &recordingEmitter{},
		vars:   config.NewVars(),
	}
	env.state = NewState(Deps{
		Vars:    env.vars,
		Game:    env.game,
		Maps:    env.maps,
		Bus:     env.bus,
		Scores:  env.scores,
		Metrics: telemetry.NewMetrics(),
		DataDir: t.TempDir(),
	})
	env.state.AttachNet(env.net)
	return env
}

// login runs a successful login and clears what it sent.
func (env *testEnv) login(t *testing.T) {
	t.Helper()
	require.NoError(t, env.vars.SetInternal(config.VarServer, "neosu.test"))
	require.NoError(t, env.vars.SetInternal(config.VarName, "tester"))
	require.NoError(t, env.vars.SetInternal(config.VarPassword, "hunter2"))
	env.state.Reconnect(context.Background())
	env.state.HandlePacket(protocol.NewPacket(protocol.PktUserID, protocol.BuildI32(testUserID)))
	require.True(t, env.state.IsOnline())
	env.net.packets = nil
	env.net.api = nil
	env.net.logouts = 0
}

func (env *testEnv) handle(id uint16, payload []byte) {
	env.state.HandlePacket(protocol.NewPacket(id, payload))
}

func TestReconnectQueuesLogin(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vars.SetInternal(config.VarServer, "neosu.test"))
	require.NoError(t, env.vars.SetInternal(config.VarName, "tester"))
	require.NoError(t, env.vars.SetInternal(config.VarPassword, "hunter2"))
	require.NoError(t, env.vars.SetInternal(config.VarAutologin, "true"))

	env.state.Reconnect(context.Background())

	assert.False(t, env.vars.GetBool(config.VarAutologin), "autologin is cleared until the server accepts")
	assert.Equal(t, "neosu.test", env.state.Endpoint())
	assert.Equal(t, events.SessionLoggingIn, env.state.Status())

	body, ok := env.state.TakeLoginBody()
	require.True(t, ok)
	lines := strings.Split(string(body), "\n")
	assert.Equal(t, "tester", lines[0])
	assert.Equal(t, protocol.HashString("hunter2").String(), lines[1])

	_, ok = env.state.TakeLoginBody()
	assert.False(t, ok, "the login body is handed out once")
}

func TestReconnectWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.state.Reconnect(context.Background())

	_, ok := env.state.TakeLoginBody()
	assert.False(t, ok)
	assert.Equal(t, events.SessionOffline, env.state.Status())
}

func TestReconnectWithOAuth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vars.SetInternal(config.VarOAuthToken, "tok"))

	env.state.Reconnect(context.Background())
	body, ok := env.state.TakeLoginBody()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(body), "$oauthtok\n"))
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	assert.True(t, env.vars.GetBool(config.VarAutologin))
	assert.Equal(t, events.SessionOnline, env.state.Status())
	assert.DirExists(t, env.state.dataDir+"/avatars/neosu.test")
	assert.DirExists(t, env.state.dataDir+"/replays/neosu.test")

	loggedIn := env.bus.ofType(events.EventLoggedIn)
	require.Len(t, loggedIn, 1)
	assert.Equal(t, events.LoggedInPayload{UserID: testUserID, Username: "tester", Endpoint: "neosu.test"}, loggedIn[0].Payload)
}

func TestLoginRequestsServerSettings(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vars.SetInternal(config.VarServer, "neosu.test"))
	require.NoError(t, env.vars.SetInternal(config.VarName, "tester"))
	require.NoError(t, env.vars.SetInternal(config.VarPassword, "pw"))
	env.state.Reconnect(context.Background())
	env.handle(protocol.PktUserID, protocol.BuildI32(5))

	require.Len(t, env.net.api, 1)
	req := env.net.api[0]
	assert.Equal(t, connector.APIGetNeosuSettings, req.Type)
	assert.Equal(t, "/neosu.json?u=tester&h="+protocol.HashString("pw").String(), req.Path)
	assert.Equal(t, connector.SettingsContext{}, req.Context)
}

func TestLoginFailure(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vars.SetInternal(config.VarOAuthToken, "stale"))
	require.NoError(t, env.vars.SetInternal(config.VarAutologin, "true"))
	env.state.SetAuthHeader("incorrect-password")

	env.handle(protocol.PktUserID, protocol.BuildI32(-1))

	assert.False(t, env.state.IsOnline())
	assert.False(t, env.vars.GetBool(config.VarAutologin))
	assert.Empty(t, env.vars.GetString(config.VarOAuthToken))
	assert.Equal(t, []string{"Incorrect password."}, env.bus.toasts())

	failed := env.bus.ofType(events.EventLoginFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, int32(-1), failed[0].Payload.(events.LoginFailedPayload).Code)
}

func TestLoginErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		code    int32
		token   string
		isOAuth bool
		want    string
	}{
		{"old client", -2, "", false, "Client version is too old to connect to this server."},
		{"banned", -3, "", false, "You are banned from this server."},
		{"banned alt", -4, "", false, "You are banned from this server."},
		{"supporter", -6, "", false, "You need to buy supporter to connect to this server."},
		{"password reset", -7, "", false, "You need to reset your password to connect to this server."},
		{"verify", -8, "", false, "Open the verification link sent to your email, then log in again."},
		{"verify oauth", -8, "", true, "Your session has expired, please log in again."},
		{"already online", -1, "user-already-logged-in", false, "Already logged in on another client."},
		{"unknown user", -1, "unknown-username", false, "No account by the username 'tester' exists."},
		{"not registered", -1, "incorrect-credentials", false, "This username is not registered."},
		{"bad password", -1, "incorrect-password", false, "Incorrect password."},
		{"staff", -1, "contact-staff", false, "Please contact an administrator of the server."},
		{"other", -5, "weird", false, "Failed to log in: weird (code -5)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loginErrorMessage(tt.code, tt.token, "tester", tt.isOAuth))
		})
	}
}

func TestDisconnectResetsSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.state.ApplyFeatures(connector.Features{Policy: connector.PolicyYes, FPoSu: true})
	env.handle(protocol.PktChannelJoinSuccess, protocol.BuildString("#osu"))
	env.handle(protocol.PktRoomJoinSuccess, roomPayload(testRoom(3, testUserID)))
	require.NoError(t, env.vars.Protect(config.VarFPoSu))

	env.state.Disconnect(context.Background())

	assert.False(t, env.state.IsOnline())
	assert.Empty(t, env.state.AuthHeader())
	assert.Equal(t, 1, env.net.logouts)
	assert.Equal(t, connector.PolicyNoPreference, env.state.ScorePolicy())
	assert.False(t, env.state.Features().FPoSu)
	assert.False(t, env.state.IsInRoom())
	assert.Empty(t, env.state.chat.List())
	assert.Zero(t, env.state.users.Len())
	assert.True(t, env.vars.GetBool(config.VarCheats))
	require.NoError(t, env.vars.Set(config.VarFPoSu, "true"), "server locks are lifted")
	assert.Len(t, env.bus.ofType(events.EventDisconnected), 1)
}

func TestDisconnectStopsActivity(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *testEnv
	}{
		{"while spectating", func(t *testing.T) *testEnv {
			env := spectating(t, 44)
			env.game.playing = true
			return env
		}},
		{"mid-match", func(t *testing.T) *testEnv {
			return startedMatch(t, 2)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.setup(t)
			env.handle(protocol.PktUserPresence, presencePayload(5, "peppy"))
			env.handle(protocol.PktChannelJoinSuccess, protocol.BuildString("#osu"))
			require.True(t, env.game.IsPlaying())

			env.state.Disconnect(context.Background())

			assert.Contains(t, env.game.calls, "stop")
			assert.False(t, env.game.IsPlaying())
			assert.False(t, env.state.spectating)
			assert.Zero(t, env.state.spectatedPlayerID)
			assert.False(t, env.state.MatchStarted())
			assert.False(t, env.state.IsInRoom())
			assert.Zero(t, env.state.users.Len())
			assert.Empty(t, env.state.chat.List())
			assert.Len(t, env.bus.ofType(events.EventDisconnected), 1)
		})
	}
}

func TestDisconnectWhileOfflineIsQuiet(t *testing.T) {
	env := newTestEnv(t)
	env.state.Disconnect(context.Background())
	assert.Empty(t, env.bus.ofType(events.EventDisconnected))
}

func TestApplyFeaturesKeepsPolicyWithoutSubmitFlag(t *testing.T) {
	env := newTestEnv(t)
	env.state.ApplyFeatures(connector.Features{Policy: connector.PolicyNo})
	env.state.ApplyFeatures(connector.Features{Mirror: true})

	assert.Equal(t, connector.PolicyNo, env.state.ScorePolicy())
	assert.True(t, env.state.Features().Mirror)
}

func TestCanSubmitScores(t *testing.T) {
	tests := []struct {
		name   string
		policy connector.ScorePolicy
		cfg    string
		want   bool
	}{
		{"server yes", connector.PolicyYes, "false", true},
		{"server no", connector.PolicyNo, "true", false},
		{"no preference uses config", connector.PolicyNoPreference, "true", true},
		{"no preference default", connector.PolicyNoPreference, "false", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.vars.Set(config.VarSubmitScores, tt.cfg))
			env.state.scorePolicy.Store(int32(tt.policy))
			assert.Equal(t, tt.want, env.state.CanSubmitScores())
		})
	}
}

func TestCheatsFollowSubmissionPolicy(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vars.SetInternal(config.VarPassword, "pw"))
	env.state.Reconnect(context.Background())
	env.state.ApplyFeatures(connector.Features{Policy: connector.PolicyYes})
	env.handle(protocol.PktUserID, protocol.BuildI32(7))
	assert.False(t, env.vars.GetBool(config.VarCheats))

	env.state.Disconnect(context.Background())
	assert.True(t, env.vars.GetBool(config.VarCheats))
}

func TestBeginOAuth(t *testing.T) {
	env := newTestEnv(t)
	link, err := env.state.BeginOAuth("neosu.test")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://neosu.test/connect?challenge="))
	assert.NotEmpty(t, env.state.OAuthVerifier())
}

// Package bancho holds the client session: login state, the packet
// dispatcher, chat, users, spectating and the multiplayer room state
// machine. State is owned by a single goroutine, the session loop run by
// Client; everything else reaches it through Client.Do.
package bancho

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/scores"
	"github.com/neosu-project/neosu/internal/telemetry"
	"github.com/neosu-project/neosu/internal/util"
)

// ErrOffline is returned by commands that need a logged in session.
var ErrOffline = errors.New("not logged in")

// Net is the part of the network pump the session sends through.
type Net interface {
	SendPacket(id uint16, payload []byte)
	SendAPIRequest(req connector.APIRequest)
	Logout(ctx context.Context) error
	Reset()
}

// ScoreCache stores parsed leaderboards and indexes downloaded replays.
type ScoreCache interface {
	ReplaceOnlineScores(mapMD5 string, list []scores.Score) error
	AddReplay(r db.Replay) (int64, error)
}

// Deps are the collaborators of a session. Game, Maps, Bus, Scores and
// Metrics may be nil.
type Deps struct {
	Config  *config.Config
	Vars    *config.Vars
	Game    Game
	Maps    BeatmapStore
	Bus     events.Emitter
	Scores  ScoreCache
	Metrics *telemetry.Metrics
	DataDir string
}

// Lobby is the room list shown while browsing multiplayer.
type Lobby struct {
	Visible bool
	Rooms   map[uint16]protocol.Room
}

func (l *Lobby) reset() {
	l.Visible = false
	l.Rooms = make(map[uint16]protocol.Room)
}

// List returns the rooms sorted by id.
func (l *Lobby) List() []protocol.Room {
	out := make([]protocol.Room, 0, len(l.Rooms))
	for _, r := range l.Rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State is the session context. The exported methods must be called on
// the session loop, except for the connector.Session methods documented
// as concurrent.
type State struct {
	cfg     *config.Config
	vars    *config.Vars
	net     Net
	game    Game
	maps    BeatmapStore
	bus     events.Emitter
	scoreDB ScoreCache
	metrics *telemetry.Metrics
	dataDir string
	logger  zerolog.Logger

	// credentials; endpoint and username are read by other goroutines
	credMu     sync.RWMutex
	endpoint   string
	username   string
	pwMD5      protocol.MD5Hash
	oauthToken string
	isOAuth    bool
	oauth      util.OAuthChallenge
	diskID     string

	authMu   sync.Mutex
	choToken string

	userID        atomic.Int32
	tryLoggingIn  atomic.Bool
	awaitingLogin bool
	scorePolicy   atomic.Int32
	fposu         atomic.Bool
	mirror        atomic.Bool

	room         protocol.Room
	matchStarted bool
	lastScores   [protocol.NumSlots]protocol.Slot
	lobby        Lobby

	spectating        bool
	spectatedPlayerID int32
	spectators        []int32
	fellowSpectators  []int32
	specFrames        []protocol.LiveReplayFrame

	chat             *Chat
	users            *Users
	printNewChannels bool
	serverIconURL    string
	privileges       int32
	silenceEnd       int32

	handlers map[uint16]handlerFunc
}

// NewState creates a session. AttachNet must be called before the session
// sends anything.
func NewState(deps Deps) *State {
	s := &State{
		cfg:     deps.Config,
		vars:    deps.Vars,
		game:    deps.Game,
		maps:    deps.Maps,
		bus:     deps.Bus,
		scoreDB: deps.Scores,
		metrics: deps.Metrics,
		dataDir: deps.DataDir,
		logger:  util.ComponentLogger("bancho"),
		chat:    newChat(),
		users:   newUsers(),
	}
	if s.vars == nil {
		s.vars = config.NewVars()
	}
	if s.game == nil {
		s.game = NopGame{}
	}
	s.lobby.reset()
	s.handlers = s.packetHandlers()
	return s
}

// AttachNet sets the pump the session sends through.
func (s *State) AttachNet(n Net) {
	s.net = n
}

// UserID implements connector.Session. Safe for concurrent use.
func (s *State) UserID() int32 {
	return s.userID.Load()
}

// Endpoint implements connector.Session. Safe for concurrent use.
func (s *State) Endpoint() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.endpoint
}

// Username returns the name used for the current session.
func (s *State) Username() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.username
}

// Users is the user cache of the session.
func (s *State) Users() *Users { return s.users }

// Chat is the channel list of the session.
func (s *State) Chat() *Chat { return s.chat }

// Vars are the variables the session reads its settings from.
func (s *State) Vars() *config.Vars { return s.vars }

// IsOnline reports whether the server accepted the login.
func (s *State) IsOnline() bool {
	return s.userID.Load() > 0
}

// IsLoggingIn reports whether a login was started and not yet answered.
func (s *State) IsLoggingIn() bool {
	return s.awaitingLogin
}

// Status summarizes the connection for consumers.
func (s *State) Status() events.SessionStatus {
	switch {
	case s.IsOnline():
		return events.SessionOnline
	case s.awaitingLogin:
		return events.SessionLoggingIn
	default:
		return events.SessionOffline
	}
}

// IsInLobbyOrSpectating implements connector.Session.
func (s *State) IsInLobbyOrSpectating() bool {
	return s.lobby.Visible || s.spectating
}

// IsInRoom implements connector.Session.
func (s *State) IsInRoom() bool {
	return s.room.IsInARoom()
}

// AuthHeader implements connector.Session. Safe for concurrent use.
func (s *State) AuthHeader() string {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.choToken
}

// SetAuthHeader implements connector.Session. Safe for concurrent use.
func (s *State) SetAuthHeader(token string) {
	s.authMu.Lock()
	s.choToken = token
	s.authMu.Unlock()
}

// ApplyFeatures implements connector.Session. A response that does not
// mention submission leaves the policy alone. Safe for concurrent use.
func (s *State) ApplyFeatures(f connector.Features) {
	if f.Policy != connector.PolicyNoPreference {
		s.scorePolicy.Store(int32(f.Policy))
	}
	if f.FPoSu {
		s.fposu.Store(true)
	}
	if f.Mirror {
		s.mirror.Store(true)
	}
}

// ScorePolicy returns the server's submission policy.
func (s *State) ScorePolicy() connector.ScorePolicy {
	return connector.ScorePolicy(s.scorePolicy.Load())
}

// Features returns what the server has enabled so far.
func (s *State) Features() connector.Features {
	return connector.Features{
		Policy: s.ScorePolicy(),
		FPoSu:  s.fposu.Load(),
		Mirror: s.mirror.Load(),
	}
}

// CanSubmitScores follows the server policy, falling back to the
// submit_scores variable when the server has no preference.
func (s *State) CanSubmitScores() bool {
	switch s.ScorePolicy() {
	case connector.PolicyYes:
		return true
	case connector.PolicyNo:
		return false
	default:
		return s.vars.GetBool(config.VarSubmitScores)
	}
}

// TakeLoginBody implements connector.Session: it returns the login body
// once per Reconnect.
func (s *State) TakeLoginBody() ([]byte, bool) {
	if !s.tryLoggingIn.CompareAndSwap(true, false) {
		return nil, false
	}
	return s.BuildLoginPacket(), true
}

// BuildLoginPacket renders the raw login request body.
func (s *State) BuildLoginPacket() []byte {
	s.credMu.Lock()
	if s.diskID == "" {
		s.diskID = util.DiskID()
	}
	info := protocol.LoginInfo{
		Username:    s.username,
		PasswordMD5: s.pwMD5,
		OAuthToken:  s.oauthToken,
		IsOAuth:     s.isOAuth,
		Version:     protocol.ClientVersion,
		UTCOffset:   utcOffset(time.Now()),
		ExePath:     util.ExecutablePath(),
		DiskID:      s.diskID,
	}
	s.credMu.Unlock()

	if s.cfg != nil {
		info.InstallID = s.cfg.GetBancho().InstallID
	}
	return protocol.BuildLoginBody(info)
}

func utcOffset(t time.Time) int {
	_, offset := t.Zone()
	return offset / 3600
}

// credentials returns what web API queries authenticate with.
func (s *State) credentials() connector.Credentials {
	s.credMu.RLock()
	c := connector.Credentials{
		Username:    s.username,
		PasswordMD5: s.pwMD5.String(),
		IsOAuth:     s.isOAuth,
	}
	s.credMu.RUnlock()
	c.ChoToken = s.AuthHeader()
	return c
}

// Reconnect tears down the current session and queues a login with the
// credentials from the variable registry.
func (s *State) Reconnect(ctx context.Context) {
	s.disconnect(ctx, "reconnecting")

	// set back to true once the server accepts the login
	s.setVar(config.VarAutologin, "false")

	password := s.vars.GetString(config.VarPassword)
	token := s.vars.GetString(config.VarOAuthToken)
	if password == "" && token == "" {
		s.logger.Debug().Msg("No credentials, not logging in")
		return
	}

	s.credMu.Lock()
	s.endpoint = s.vars.GetString(config.VarServer)
	s.username = s.vars.GetString(config.VarName)
	s.pwMD5 = protocol.HashString(password)
	s.oauthToken = token
	s.isOAuth = token != ""
	endpoint, username := s.endpoint, s.username
	s.credMu.Unlock()

	s.tryLoggingIn.Store(true)
	s.awaitingLogin = true
	s.logger.Info().Str("endpoint", endpoint).Str("username", username).Msg("Logging in")
}

// Disconnect logs out and resets every piece of session state.
func (s *State) Disconnect(ctx context.Context) {
	s.disconnect(ctx, "")
}

func (s *State) disconnect(ctx context.Context, reason string) {
	if s.spectating {
		s.StopSpectating()
	}
	if s.game.IsPlaying() {
		s.game.Stop()
	}

	wasOnline := s.IsOnline()
	if s.net != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		// the pump logs failures; logging out is best effort
		_ = s.net.Logout(logoutCtx)
		cancel()
	}

	s.tryLoggingIn.Store(false)
	s.awaitingLogin = false
	s.SetAuthHeader("")
	if s.net != nil {
		s.net.Reset()
	}
	s.userID.Store(0)
	s.scorePolicy.Store(int32(connector.PolicyNoPreference))
	s.fposu.Store(false)
	s.mirror.Store(false)
	s.vars.ResetAll()
	s.setVar(config.VarCheats, "true")

	s.users.LogoutAll()
	s.chat.reset()
	s.room = protocol.Room{}
	s.matchStarted = false
	s.spectating = false
	s.spectatedPlayerID = 0
	s.spectators = nil
	s.fellowSpectators = nil
	s.specFrames = nil
	s.lobby.reset()
	s.printNewChannels = false
	s.serverIconURL = ""

	if s.metrics != nil {
		s.metrics.Online.Set(0)
	}

	if wasOnline {
		s.logger.Info().Str("reason", reason).Msg("Disconnected")
		s.emit(events.EventDisconnected, events.DisconnectedPayload{
			Endpoint: s.Endpoint(),
			Reason:   reason,
		})
	}
}

// onLoggedIn runs once USER_ID carries a positive id.
func (s *State) onLoggedIn(id int32) {
	s.awaitingLogin = false
	s.userID.Store(id)
	s.setVar(config.VarAutologin, "true")
	s.setVar(config.VarCheats, strconv.FormatBool(!s.CanSubmitScores()))
	s.printNewChannels = true

	endpoint := s.Endpoint()
	for _, dir := range []string{"avatars", "replays"} {
		if err := util.EnsureDir(filepath.Join(s.dataDir, dir, endpoint)); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to create data directory")
		}
	}

	s.sendAPI(connector.APIRequest{
		Type:    connector.APIGetNeosuSettings,
		Path:    connector.SettingsPath(s.credentials()),
		Context: connector.SettingsContext{},
	})

	if s.metrics != nil {
		s.metrics.Online.Set(1)
	}

	s.logger.Info().Int32("user_id", id).Str("endpoint", endpoint).Msg("Logged in")
	s.emit(events.EventLoggedIn, events.LoggedInPayload{
		UserID:   id,
		Username: s.Username(),
		Endpoint: endpoint,
	})
}

// onLoginFailed runs when USER_ID carries zero or a negative code.
func (s *State) onLoginFailed(code int32) {
	s.awaitingLogin = false
	s.userID.Store(0)
	s.credMu.RLock()
	username, isOAuth := s.username, s.isOAuth
	s.credMu.RUnlock()

	msg := loginErrorMessage(code, s.AuthHeader(), username, isOAuth)

	s.setVar(config.VarAutologin, "false")
	s.setVar(config.VarOAuthToken, "")

	s.logger.Warn().Int32("code", code).Str("reason", msg).Msg("Login rejected")
	s.emit(events.EventLoginFailed, events.LoginFailedPayload{Code: code, Message: msg})
	s.toast(events.ToastError, msg)
}

// loginErrorMessage maps a USER_ID failure code and the cho-token the
// server sent with it to a user-facing message.
func loginErrorMessage(code int32, choToken, username string, isOAuth bool) string {
	switch code {
	case -2:
		return "Client version is too old to connect to this server."
	case -3, -4:
		return "You are banned from this server."
	case -6:
		return "You need to buy supporter to connect to this server."
	case -7:
		return "You need to reset your password to connect to this server."
	case -8:
		if isOAuth {
			return "Your session has expired, please log in again."
		}
		return "Open the verification link sent to your email, then log in again."
	}

	switch choToken {
	case "user-already-logged-in":
		return "Already logged in on another client."
	case "unknown-username":
		return fmt.Sprintf("No account by the username '%s' exists.", username)
	case "incorrect-credentials":
		return "This username is not registered."
	case "incorrect-password":
		return "Incorrect password."
	case "contact-staff":
		return "Please contact an administrator of the server."
	default:
		return fmt.Sprintf("Failed to log in: %s (code %d)", choToken, code)
	}
}

// BeginOAuth starts a browser login against endpoint and returns the URL
// to open. The matching FinishOAuth must run before the next BeginOAuth.
func (s *State) BeginOAuth(endpoint string) (string, error) {
	challenge, err := util.NewOAuthChallenge()
	if err != nil {
		return "", err
	}
	s.credMu.Lock()
	s.oauth = challenge
	s.credMu.Unlock()
	return "https://" + endpoint + "/connect?challenge=" + challenge.Challenge, nil
}

// OAuthVerifier returns the proof for the last BeginOAuth.
func (s *State) OAuthVerifier() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.oauth.Verifier
}

func (s *State) setVar(name, value string) {
	if err := s.vars.SetInternal(name, value); err != nil {
		s.logger.Warn().Err(err).Str("var", name).Msg("Failed to set variable")
	}
}

func (s *State) send(id uint16, payload []byte) {
	if s.net == nil {
		return
	}
	s.net.SendPacket(id, payload)
}

func (s *State) sendAPI(req connector.APIRequest) {
	if s.net == nil {
		return
	}
	s.net.SendAPIRequest(req)
}

func (s *State) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{Type: t, Source: "bancho", Payload: payload})
}

func (s *State) toast(level events.ToastLevel, msg string) {
	s.emit(events.EventToast, events.ToastPayload{Level: level, Message: msg})
}

// Package events defines the event types published by the Bancho session
// and the bus that carries them to local consumers.
package events

import "github.com/neosu-project/neosu/internal/protocol"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// EventAny subscribes a handler to every event type.
	EventAny EventType = "*"

	// Session lifecycle
	EventLoggedIn     EventType = "logged_in"
	EventLoginFailed  EventType = "login_failed"
	EventDisconnected EventType = "disconnected"
	EventSelfStats    EventType = "self_stats"

	// Notifications
	EventToast EventType = "toast"

	// Chat
	EventChatMessage    EventType = "chat_message"
	EventChannelUpdated EventType = "channel_updated"
	EventChannelLeft    EventType = "channel_left"

	// Users
	EventUserStats    EventType = "user_stats"
	EventUserPresence EventType = "user_presence"
	EventUserLogout   EventType = "user_logout"
	EventFriendsList  EventType = "friends_list"

	// Lobby and multiplayer
	EventLobbyUpdated      EventType = "lobby_updated"
	EventRoomJoined        EventType = "room_joined"
	EventRoomJoinFailed    EventType = "room_join_failed"
	EventRoomLeft          EventType = "room_left"
	EventRoomUpdated       EventType = "room_updated"
	EventMatchStarted      EventType = "match_started"
	EventAllPlayersLoaded  EventType = "all_players_loaded"
	EventAllPlayersSkipped EventType = "all_players_skipped"
	EventMatchScoreUpdated EventType = "match_score_updated"
	EventMatchFinished     EventType = "match_finished"
	EventMatchAborted      EventType = "match_aborted"

	// Spectating
	EventSpectatorJoined EventType = "spectator_joined"
	EventSpectatorLeft   EventType = "spectator_left"
	EventSpectateStarted EventType = "spectate_started"
	EventSpectateStopped EventType = "spectate_stopped"

	// Web API results
	EventLeaderboard      EventType = "leaderboard"
	EventReplayDownloaded EventType = "replay_downloaded"
	EventScoreSubmitted   EventType = "score_submitted"

	// System
	EventVarsChanged   EventType = "vars_changed"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
	EventHeartbeat     EventType = "heartbeat"
)

// SessionStatus is the coarse connection state reported to consumers.
type SessionStatus int

const (
	SessionOffline SessionStatus = iota
	SessionLoggingIn
	SessionOnline
)

var sessionStatusStrings = map[SessionStatus]string{
	SessionOffline:   "offline",
	SessionLoggingIn: "logging_in",
	SessionOnline:    "online",
}

// String returns the string representation of SessionStatus.
func (s SessionStatus) String() string {
	if str, ok := sessionStatusStrings[s]; ok {
		return str
	}
	return "offline"
}

// MarshalJSON serializes SessionStatus as a JSON string (e.g. "online").
func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ToastLevel controls how a notification is presented.
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastSuccess
	ToastError
)

var toastLevelStrings = map[ToastLevel]string{
	ToastInfo:    "info",
	ToastSuccess: "success",
	ToastError:   "error",
}

// String returns the string representation of ToastLevel.
func (l ToastLevel) String() string {
	if str, ok := toastLevelStrings[l]; ok {
		return str
	}
	return "info"
}

// MarshalJSON serializes ToastLevel as a JSON string.
func (l ToastLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Payload interface{} `json:"payload,omitempty"`
}

// ToastPayload is a user-facing notification.
type ToastPayload struct {
	Level   ToastLevel `json:"level"`
	Message string     `json:"message"`
}

// LoggedInPayload is emitted once the server accepts the login.
type LoggedInPayload struct {
	UserID   int32  `json:"user_id"`
	Username string `json:"username"`
	Endpoint string `json:"endpoint"`
}

// LoginFailedPayload carries the server's rejection code.
type LoginFailedPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// DisconnectedPayload is emitted after the session has been torn down.
type DisconnectedPayload struct {
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason,omitempty"`
}

// ChatMessagePayload is a message added to a channel's history.
type ChatMessagePayload struct {
	Channel  string `json:"channel"`
	Sender   string `json:"sender"`
	SenderID int32  `json:"sender_id"`
	Text     string `json:"text"`
}

// ChannelPayload describes a channel as last reported by the server.
type ChannelPayload struct {
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Members int32  `json:"members"`
	Joined  bool   `json:"joined"`
}

// UserPayload identifies the user an update was about.
type UserPayload struct {
	UserID int32           `json:"user_id"`
	Name   string          `json:"name"`
	Action protocol.Action `json:"action"`
}

// FriendsPayload is the full friends list after a FRIENDS_LIST packet.
type FriendsPayload struct {
	Friends []int32 `json:"friends"`
}

// LobbyPayload is the visible room list.
type LobbyPayload struct {
	Rooms []protocol.Room `json:"rooms"`
}

// RoomPayload carries a snapshot of the joined room.
type RoomPayload struct {
	Room protocol.Room `json:"room"`
}

// ScoreUpdatedPayload is a live score from another player in the match.
type ScoreUpdatedPayload struct {
	Frame protocol.ScoreFrame `json:"frame"`
}

// MatchResult is one line of a finished match ranking.
type MatchResult struct {
	SlotID   int                 `json:"slot_id"`
	PlayerID int32               `json:"player_id"`
	Team     uint8               `json:"team"`
	Score    protocol.ScoreFrame `json:"score"`
}

// MatchFinishedPayload is the ranking, best score first.
type MatchFinishedPayload struct {
	RoomID  uint16        `json:"room_id"`
	Results []MatchResult `json:"results"`
}

// SpectatorPayload names the user who joined or left.
type SpectatorPayload struct {
	UserID int32 `json:"user_id"`
	Fellow bool  `json:"fellow"`
}

// LeaderboardPayload is emitted after an online leaderboard was parsed and
// cached.
type LeaderboardPayload struct {
	MapMD5 string `json:"map_md5"`
	Count  int    `json:"count"`
}

// ReplayPayload is emitted once a downloaded replay is on disk.
type ReplayPayload struct {
	ScoreID int64  `json:"score_id"`
	Path    string `json:"path"`
}

// VarsChangedPayload lists variables touched by a server packet.
type VarsChangedPayload struct {
	Operation string   `json:"operation"`
	Names     []string `json:"names"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}

// ScoreSubmittedPayload reports the server's answer to a score submission.
type ScoreSubmittedPayload struct {
	MapMD5   string `json:"map_md5"`
	Accepted bool   `json:"accepted"`
	Response string `json:"response,omitempty"`
}

// HeartbeatPayload is the periodic liveness report of the daemon.
type HeartbeatPayload struct {
	Status      SessionStatus `json:"status"`
	UserID      int32         `json:"user_id,omitempty"`
	Endpoint    string        `json:"endpoint,omitempty"`
	Channels    int           `json:"channels"`
	InRoom      bool          `json:"in_room"`
	Spectating  bool          `json:"spectating"`
	DiskPercent float64       `json:"disk_used_percent"`
	Timestamp   int64         `json:"timestamp"`
}

// Package protocol implements the Bancho binary wire format: packet
// framing, primitive readers and writers, and the composite structures
// (rooms, score frames, replay frames) exchanged with an osu!-compatible
// server. All integers are little-endian; packets are wrapped in a 7-byte
// header and batched inside HTTP request/response bodies.
package protocol

import "fmt"

// ProtocolVersion is the Bancho protocol revision this client speaks.
const ProtocolVersion = 19

// Incoming packet ids (server -> client).
const (
	PktUserID                uint16 = 5
	PktRecvMessage           uint16 = 7
	PktPong                  uint16 = 8
	PktUserStats             uint16 = 11
	PktUserLogout            uint16 = 12
	PktSpectatorJoined       uint16 = 13
	PktSpectatorLeft         uint16 = 14
	PktSpectateFrames        uint16 = 15
	PktVersionUpdate         uint16 = 19
	PktSpectatorCantSpectate uint16 = 22
	PktGetAttention          uint16 = 23
	PktNotification          uint16 = 24
	PktRoomUpdated           uint16 = 26
	PktRoomCreated           uint16 = 27
	PktRoomClosed            uint16 = 28
	PktRoomJoinSuccess       uint16 = 36
	PktRoomJoinFail          uint16 = 37
	PktFellowSpectatorJoined uint16 = 42
	PktFellowSpectatorLeft   uint16 = 43
	PktMatchStarted          uint16 = 46
	PktMatchScoreUpdated     uint16 = 48
	PktHostChanged           uint16 = 50
	PktMatchAllPlayersLoaded uint16 = 53
	PktMatchPlayerFailed     uint16 = 57
	PktMatchFinished         uint16 = 58
	PktMatchSkip             uint16 = 61
	PktChannelJoinSuccess    uint16 = 64
	PktChannelInfo           uint16 = 65
	PktLeftChannel           uint16 = 66
	PktChannelAutoJoin       uint16 = 67
	PktPrivileges            uint16 = 71
	PktFriendsList           uint16 = 72
	PktProtocolVersion       uint16 = 75
	PktMainMenuIcon          uint16 = 76
	PktMatchPlayerSkipped    uint16 = 81
	PktUserPresence          uint16 = 83
	PktRestart               uint16 = 86
	PktRoomInvite            uint16 = 88
	PktChannelInfoEnd        uint16 = 89
	PktRoomPasswordChanged   uint16 = 91
	PktSilenceEnd            uint16 = 92
	PktUserSilenced          uint16 = 94
	PktUserDMBlocked         uint16 = 100
	PktTargetIsSilenced      uint16 = 101
	PktVersionUpdateForced   uint16 = 102
	PktSwitchServer          uint16 = 103
	PktAccountRestricted     uint16 = 104
	PktMatchAbort            uint16 = 106

	// neosu extensions, never sent by stable servers
	PktProtectVariables   uint16 = 0x2001 // [count:2][name:str]...
	PktUnprotectVariables uint16 = 0x2002 // [count:2][name:str]...
	PktForceValues        uint16 = 0x2003 // [count:2]([name:str][value:str])...
	PktResetValues        uint16 = 0x2004 // [count:2][name:str]...
	PktRequestMap         uint16 = 0x2005 // [md5:str]
)

// Outgoing packet ids (client -> server).
const (
	ReqChangeAction               uint16 = 0
	ReqSendPublicMessage          uint16 = 1
	ReqLogout                     uint16 = 2
	ReqPing                       uint16 = 4
	ReqStartSpectating            uint16 = 16
	ReqStopSpectating             uint16 = 17
	ReqSpectateFrames             uint16 = 18
	ReqErrorReport                uint16 = 20
	ReqCantSpectate               uint16 = 21
	ReqSendPrivateMessage         uint16 = 25
	ReqExitRoomList               uint16 = 29
	ReqJoinRoomList               uint16 = 30
	ReqCreateRoom                 uint16 = 31
	ReqJoinRoom                   uint16 = 32
	ReqExitRoom                   uint16 = 33
	ReqChangeSlot                 uint16 = 38
	ReqMatchReady                 uint16 = 39
	ReqMatchLock                  uint16 = 40
	ReqMatchChangeSettings        uint16 = 41
	ReqStartMatch                 uint16 = 44
	ReqUpdateMatchScore           uint16 = 47
	ReqFinishMatch                uint16 = 49
	ReqMatchChangeMods            uint16 = 51
	ReqMatchLoadComplete          uint16 = 52
	ReqMatchNoBeatmap             uint16 = 54
	ReqMatchNotReady              uint16 = 55
	ReqMatchFailed                uint16 = 56
	ReqMatchHasBeatmap            uint16 = 59
	ReqMatchSkipRequest           uint16 = 60
	ReqChannelJoin                uint16 = 63
	ReqBeatmapInfoRequest         uint16 = 68
	ReqTransferHost               uint16 = 70
	ReqFriendAdd                  uint16 = 73
	ReqFriendRemove               uint16 = 74
	ReqMatchChangeTeam            uint16 = 77
	ReqChannelPart                uint16 = 78
	ReqReceiveUpdates             uint16 = 79
	ReqSetAwayMessage             uint16 = 82
	ReqIRCOnly                    uint16 = 84
	ReqUserStatsRequest           uint16 = 85
	ReqMatchInvite                uint16 = 88
	ReqChangeRoomPassword         uint16 = 90
	ReqTournamentMatchInfoRequest uint16 = 93
	ReqUserPresenceRequest        uint16 = 97
	ReqUserPresenceRequestAll     uint16 = 98
	ReqToggleBlockNonFriendDMs    uint16 = 99
	ReqTournamentJoinMatchChannel uint16 = 108
	ReqTournamentExitMatchChannel uint16 = 109
)

var incomingNames = map[uint16]string{
	PktUserID:                "USER_ID",
	PktRecvMessage:           "RECV_MESSAGE",
	PktPong:                  "PONG",
	PktUserStats:             "USER_STATS",
	PktUserLogout:            "USER_LOGOUT",
	PktSpectatorJoined:       "SPECTATOR_JOINED",
	PktSpectatorLeft:         "SPECTATOR_LEFT",
	PktSpectateFrames:        "IN_SPECTATE_FRAMES",
	PktVersionUpdate:         "VERSION_UPDATE",
	PktSpectatorCantSpectate: "SPECTATOR_CANT_SPECTATE",
	PktGetAttention:          "GET_ATTENTION",
	PktNotification:          "NOTIFICATION",
	PktRoomUpdated:           "ROOM_UPDATED",
	PktRoomCreated:           "ROOM_CREATED",
	PktRoomClosed:            "ROOM_CLOSED",
	PktRoomJoinSuccess:       "ROOM_JOIN_SUCCESS",
	PktRoomJoinFail:          "ROOM_JOIN_FAIL",
	PktFellowSpectatorJoined: "FELLOW_SPECTATOR_JOINED",
	PktFellowSpectatorLeft:   "FELLOW_SPECTATOR_LEFT",
	PktMatchStarted:          "MATCH_STARTED",
	PktMatchScoreUpdated:     "MATCH_SCORE_UPDATED",
	PktHostChanged:           "HOST_CHANGED",
	PktMatchAllPlayersLoaded: "MATCH_ALL_PLAYERS_LOADED",
	PktMatchPlayerFailed:     "MATCH_PLAYER_FAILED",
	PktMatchFinished:         "MATCH_FINISHED",
	PktMatchSkip:             "MATCH_SKIP",
	PktChannelJoinSuccess:    "CHANNEL_JOIN_SUCCESS",
	PktChannelInfo:           "CHANNEL_INFO",
	PktLeftChannel:           "LEFT_CHANNEL",
	PktChannelAutoJoin:       "CHANNEL_AUTO_JOIN",
	PktPrivileges:            "PRIVILEGES",
	PktFriendsList:           "FRIENDS_LIST",
	PktProtocolVersion:       "PROTOCOL_VERSION",
	PktMainMenuIcon:          "MAIN_MENU_ICON",
	PktMatchPlayerSkipped:    "MATCH_PLAYER_SKIPPED",
	PktUserPresence:          "USER_PRESENCE",
	PktRestart:               "RESTART",
	PktRoomInvite:            "ROOM_INVITE",
	PktChannelInfoEnd:        "CHANNEL_INFO_END",
	PktRoomPasswordChanged:   "ROOM_PASSWORD_CHANGED",
	PktSilenceEnd:            "SILENCE_END",
	PktUserSilenced:          "USER_SILENCED",
	PktUserDMBlocked:         "USER_DM_BLOCKED",
	PktTargetIsSilenced:      "TARGET_IS_SILENCED",
	PktVersionUpdateForced:   "VERSION_UPDATE_FORCED",
	PktSwitchServer:          "SWITCH_SERVER",
	PktAccountRestricted:     "ACCOUNT_RESTRICTED",
	PktMatchAbort:            "MATCH_ABORT",
	PktProtectVariables:      "PROTECT_VARIABLES",
	PktUnprotectVariables:    "UNPROTECT_VARIABLES",
	PktForceValues:           "FORCE_VALUES",
	PktResetValues:           "RESET_VALUES",
	PktRequestMap:            "REQUEST_MAP",
}

// PacketName returns a readable name for an incoming packet id.
func PacketName(id uint16) string {
	if name, ok := incomingNames[id]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", id)
}

// Action is what a user is currently doing, as broadcast in USER_STATS.
type Action uint8

const (
	ActionIdle Action = iota
	ActionAFK
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionTesting2 // shown as "Testing" by stable clients
	ActionMultiplaying
	ActionOsuDirect
)

var actionStrings = [...]string{
	ActionIdle:         "idle",
	ActionAFK:          "afk",
	ActionPlaying:      "playing",
	ActionEditing:      "editing",
	ActionModding:      "modding",
	ActionMultiplayer:  "in a multiplayer lobby",
	ActionWatching:     "spectating",
	ActionUnknown:      "unknown",
	ActionTesting:      "testing",
	ActionSubmitting:   "submitting",
	ActionPaused:       "paused",
	ActionTesting2:     "testing",
	ActionMultiplaying: "playing multiplayer",
	ActionOsuDirect:    "browsing maps",
}

// Valid reports whether the action is one this client knows about.
func (a Action) Valid() bool {
	return int(a) < len(actionStrings)
}

func (a Action) String() string {
	if a.Valid() {
		return actionStrings[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// WinCondition decides how a multiplayer match is scored.
type WinCondition uint8

const (
	WinScoreV1 WinCondition = iota
	WinAccuracy
	WinCombo
	WinScoreV2
)

func (w WinCondition) String() string {
	switch w {
	case WinScoreV1:
		return "score"
	case WinAccuracy:
		return "accuracy"
	case WinCombo:
		return "combo"
	case WinScoreV2:
		return "scorev2"
	default:
		return "unknown"
	}
}

// GameMode is one of the four osu! rulesets.
type GameMode uint8

const (
	ModeStandard GameMode = iota
	ModeTaiko
	ModeCatch
	ModeMania
)

func (m GameMode) String() string {
	switch m {
	case ModeStandard:
		return "osu!"
	case ModeTaiko:
		return "taiko"
	case ModeCatch:
		return "catch"
	case ModeMania:
		return "mania"
	default:
		return "unknown"
	}
}

// TeamType is the room's team arrangement.
type TeamType uint8

const (
	TeamHeadToHead TeamType = iota
	TeamTagCoop
	TeamVs
	TeamTagVs
)

func (t TeamType) String() string {
	switch t {
	case TeamHeadToHead:
		return "head-to-head"
	case TeamTagCoop:
		return "tag-coop"
	case TeamVs:
		return "team-vs"
	case TeamTagVs:
		return "tag-team-vs"
	default:
		return "unknown"
	}
}

// SpectatorAction trails every spectate-frames bundle and tells the
// watcher what the host just did.
type SpectatorAction uint8

const (
	SpecNone SpectatorAction = iota
	SpecNewSong
	SpecSkip
	SpecCompletion
	SpecFail
	SpecPause
	SpecUnpause
	SpecSongSelect
	SpecWatchingOther
)

func (s SpectatorAction) String() string {
	switch s {
	case SpecNone:
		return "none"
	case SpecNewSong:
		return "new_song"
	case SpecSkip:
		return "skip"
	case SpecCompletion:
		return "completion"
	case SpecFail:
		return "fail"
	case SpecPause:
		return "pause"
	case SpecUnpause:
		return "unpause"
	case SpecSongSelect:
		return "song_select"
	case SpecWatchingOther:
		return "watching_other"
	default:
		return "unknown"
	}
}

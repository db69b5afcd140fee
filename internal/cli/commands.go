// Package cli implements the interactive console of the client daemon. It
// reads one command per line and drives the session through the same
// Do/Snapshot calls as the REST API.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

// Session is the part of bancho.Client the console needs.
type Session interface {
	Do(ctx context.Context, fn func(*bancho.State) error) error
	Snapshot(ctx context.Context) (bancho.Snapshot, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	session Session
	bus     events.Emitter
	in      io.Reader
	out     io.Writer
}

// NewCLI creates a console reading from in and writing to out.
func NewCLI(session Session, bus events.Emitter, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		session: session,
		bus:     bus,
		in:      in,
		out:     out,
	}
}

// Start runs the read loop until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	c.printf("\nneosu console ready. Type 'help' for available commands.\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		c.printf("neosu> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.Execute(ctx, line); quit {
				return
			}
		}
	}
}

// Execute runs one command line and reports whether the user asked to
// quit.
func (c *CLI) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if cmd == "quit" || cmd == "exit" || cmd == "q" {
		c.printf("Shutting down neosu...\n")
		c.bus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		return true
	}

	if err := c.execute(ctx, cmd, args); err != nil {
		c.printf("Error: %v\n", err)
	}
	return false
}

type command struct {
	usage string
	help  string
	run   func(c *CLI, ctx context.Context, args []string) error
}

// commands is filled in init because help lists it.
var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {"help", "Show this help message", (*CLI).cmdHelp},
		"status":    {"status", "Show the session status", (*CLI).cmdStatus},
		"login":     {"login <user> <password> [server]", "Log in", (*CLI).cmdLogin},
		"logout":    {"logout", "Log out and disable autologin", (*CLI).cmdLogout},
		"users":     {"users [friends]", "List known users", (*CLI).cmdUsers},
		"friend":    {"friend <id>", "Add a friend", (*CLI).cmdFriend},
		"unfriend":  {"unfriend <id>", "Remove a friend", (*CLI).cmdUnfriend},
		"channels":  {"channels", "List chat channels", (*CLI).cmdChannels},
		"history":   {"history <channel>", "Show channel messages", (*CLI).cmdHistory},
		"join":      {"join <#channel>", "Join a channel", (*CLI).cmdJoin},
		"part":      {"part <#channel>", "Leave a channel", (*CLI).cmdPart},
		"say":       {"say <target> <text>", "Send a message to a channel or user", (*CLI).cmdSay},
		"lobby":     {"lobby", "Browse multiplayer rooms", (*CLI).cmdLobby},
		"room":      {"room", "Show the joined room", (*CLI).cmdRoom},
		"create":    {"create <name> [password]", "Create a room", (*CLI).cmdCreate},
		"enter":     {"enter <id> [password]", "Join a room", (*CLI).cmdEnter},
		"leave":     {"leave", "Leave the room", (*CLI).cmdLeave},
		"ready":     {"ready", "Mark ready", roomCmd((*bancho.State).Ready)},
		"unready":   {"unready", "Mark not ready", roomCmd((*bancho.State).NotReady)},
		"start":     {"start", "Start the match (host)", roomCmd((*bancho.State).StartMatch)},
		"spectate":  {"spectate <id>", "Spectate a user", (*CLI).cmdSpectate},
		"stopspec":  {"stopspec", "Stop spectating", (*CLI).cmdStopSpectating},
		"vars":      {"vars", "List client variables", (*CLI).cmdVars},
		"set":       {"set <var> <value>", "Change a client variable", (*CLI).cmdSet},
		"scores":    {"scores <md5>", "Fetch the online leaderboard of a map", (*CLI).cmdScores},
		"reconnect": {"reconnect", "Log in again with the stored credentials", (*CLI).cmdReconnect},
	}
}

var aliases = map[string]string{
	"h":   "help",
	"?":   "help",
	"s":   "status",
	"w":   "users",
	"msg": "say",
}

func sortedCommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CLI) execute(ctx context.Context, name string, args []string) error {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	cmd, ok := commands[name]
	if !ok {
		c.printf("Unknown command: '%s'. Type 'help' for available commands.\n", name)
		return nil
	}
	return cmd.run(c, ctx, args)
}

func (c *CLI) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) cmdHelp(context.Context, []string) error {
	tw := c.table([]string{"Command", "Description"})
	for _, name := range sortedCommands() {
		cmd := commands[name]
		tw.Append([]string{cmd.usage, cmd.help})
	}
	tw.Append([]string{"quit", "Shut down neosu"})
	tw.Render()
	return nil
}

func (c *CLI) cmdStatus(ctx context.Context, _ []string) error {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		return err
	}

	c.printf("\n  Status:      %s\n", snap.Status)
	if snap.Status == events.SessionOffline {
		c.printf("\n")
		return nil
	}
	c.printf("  Server:      %s\n", snap.Endpoint)
	c.printf("  User:        %s (%d)\n", snap.Username, snap.UserID)
	c.printf("  Submission:  %v\n", snap.CanSubmitScores)
	c.printf("  Users known: %d\n", len(snap.Users))
	c.printf("  Friends:     %d\n", len(snap.Friends))
	c.printf("  Channels:    %d\n", len(snap.Channels))
	if snap.Room.IsInARoom() {
		c.printf("  Room:        %s (#%d, %d players)\n", snap.Room.Name, snap.Room.ID, snap.Room.NbPlayers)
	}
	if snap.Spectating {
		c.printf("  Spectating:  %d\n", snap.SpectatedPlayerID)
	}
	if len(snap.Spectators) > 0 {
		c.printf("  Spectators:  %d\n", len(snap.Spectators))
	}
	c.printf("\n")
	return nil
}

func (c *CLI) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: login <user> <password> [server]")
	}
	err := c.session.Do(ctx, func(st *bancho.State) error {
		vars := st.Vars()
		if len(args) > 2 {
			if err := vars.Set(config.VarServer, args[2]); err != nil {
				return err
			}
		}
		if err := vars.Set(config.VarName, args[0]); err != nil {
			return err
		}
		if err := vars.Set(config.VarPassword, args[1]); err != nil {
			return err
		}
		if err := vars.SetInternal(config.VarOAuthToken, ""); err != nil {
			return err
		}
		st.Reconnect(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	c.printf("Logging in as %s...\n", args[0])
	return nil
}

func (c *CLI) cmdLogout(ctx context.Context, _ []string) error {
	err := c.session.Do(ctx, func(st *bancho.State) error {
		st.Disconnect(ctx)
		return st.Vars().SetInternal(config.VarAutologin, "false")
	})
	if err != nil {
		return err
	}
	c.printf("Logged out\n")
	return nil
}

func (c *CLI) cmdReconnect(ctx context.Context, _ []string) error {
	err := c.session.Do(ctx, func(st *bancho.State) error {
		st.Reconnect(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	c.printf("Reconnection initiated\n")
	return nil
}

func (c *CLI) cmdUsers(ctx context.Context, args []string) error {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	friendsOnly := len(args) > 0 && args[0] == "friends"

	tw := c.table([]string{"ID", "Name", "Friend", "Action", "Rank", "PP"})
	for _, u := range snap.Users {
		if friendsOnly && !u.IsFriend {
			continue
		}
		tw.Append([]string{
			strconv.Itoa(int(u.UserID)),
			u.Name,
			yesNo(u.IsFriend),
			u.Action.String(),
			strconv.Itoa(int(u.GlobalRank)),
			strconv.Itoa(int(u.PP)),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdFriend(ctx context.Context, args []string) error {
	id, err := parseUserID(args)
	if err != nil {
		return err
	}
	if err := c.session.Do(ctx, func(st *bancho.State) error { return st.FriendAdd(id) }); err != nil {
		return err
	}
	c.printf("Added friend %d\n", id)
	return nil
}

func (c *CLI) cmdUnfriend(ctx context.Context, args []string) error {
	id, err := parseUserID(args)
	if err != nil {
		return err
	}
	if err := c.session.Do(ctx, func(st *bancho.State) error { return st.FriendRemove(id) }); err != nil {
		return err
	}
	c.printf("Removed friend %d\n", id)
	return nil
}

func (c *CLI) cmdChannels(ctx context.Context, _ []string) error {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	tw := c.table([]string{"Channel", "Members", "Joined", "Unread", "Topic"})
	for _, ch := range snap.Channels {
		tw.Append([]string{
			ch.Name,
			strconv.Itoa(int(ch.Members)),
			yesNo(ch.Joined),
			yesNo(ch.Unread),
			ch.Topic,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdHistory(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: history <channel>")
	}
	name := args[0]
	var history []bancho.ChatMessage
	err := c.session.Do(ctx, func(st *bancho.State) error {
		if _, ok := st.Chat().Get(name); !ok {
			return fmt.Errorf("unknown channel %s", name)
		}
		history = st.Chat().History(name)
		st.MarkAsRead(name)
		return nil
	})
	if err != nil {
		return err
	}
	for _, m := range history {
		sender := m.Sender
		if sender == "" {
			sender = "*"
		}
		c.printf("[%s] %s: %s\n", m.Time.Format(time.TimeOnly), sender, m.Text)
	}
	return nil
}

func (c *CLI) cmdJoin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: join <#channel>")
	}
	return c.session.Do(ctx, func(st *bancho.State) error {
		if !st.IsOnline() {
			return bancho.ErrOffline
		}
		st.JoinChannel(args[0])
		return nil
	})
}

func (c *CLI) cmdPart(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: part <#channel>")
	}
	return c.session.Do(ctx, func(st *bancho.State) error {
		st.PartChannel(args[0])
		return nil
	})
}

func (c *CLI) cmdSay(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: say <target> <text>")
	}
	text := strings.Join(args[1:], " ")
	return c.session.Do(ctx, func(st *bancho.State) error { return st.SendMessage(args[0], text) })
}

func (c *CLI) cmdLobby(ctx context.Context, _ []string) error {
	var rooms []protocol.Room
	err := c.session.Do(ctx, func(st *bancho.State) error {
		if err := st.JoinLobby(); err != nil {
			return err
		}
		rooms = st.LobbyRooms()
		return nil
	})
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		c.printf("Lobby joined, waiting for rooms. Run 'lobby' again to refresh.\n")
		return nil
	}

	tw := c.table([]string{"ID", "Name", "Players", "Map", "Locked", "Playing"})
	for _, r := range rooms {
		tw.Append([]string{
			strconv.Itoa(int(r.ID)),
			r.Name,
			fmt.Sprintf("%d/%d", r.NbPlayers, r.NbOpenSlots+r.NbPlayers),
			r.MapName,
			yesNo(r.HasPassword),
			yesNo(r.InProgress),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdRoom(ctx context.Context, _ []string) error {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	room := snap.Room
	if !room.IsInARoom() {
		return bancho.ErrNotInRoom
	}

	c.printf("\n  %s (#%d)  map: %s  host: %d  started: %v\n\n", room.Name, room.ID, room.MapName, room.HostID, snap.MatchStarted)
	tw := c.table([]string{"Slot", "Player", "Ready", "Team", "Score"})
	for i, slot := range room.Slots {
		if !slot.HasPlayer() {
			continue
		}
		tw.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(slot.PlayerID)),
			yesNo(slot.IsReady()),
			strconv.Itoa(int(slot.Team)),
			strconv.Itoa(int(slot.TotalScore)),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdCreate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: create <name> [password]")
	}
	room := protocol.Room{Name: args[0]}
	if len(args) > 1 {
		room.Password = args[1]
		room.HasPassword = true
	}
	for i := range room.Slots {
		room.Slots[i].Status = protocol.SlotOpen
	}
	return c.session.Do(ctx, func(st *bancho.State) error {
		room.HostID = st.UserID()
		return st.CreateRoom(room)
	})
}

func (c *CLI) cmdEnter(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: enter <id> [password]")
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid room id: %s", args[0])
	}
	password := ""
	if len(args) > 1 {
		password = args[1]
	}
	return c.session.Do(ctx, func(st *bancho.State) error { return st.JoinRoom(int32(id), password) })
}

func (c *CLI) cmdLeave(ctx context.Context, _ []string) error {
	return c.session.Do(ctx, func(st *bancho.State) error {
		if !st.IsInRoom() {
			return bancho.ErrNotInRoom
		}
		st.RagequitRoom()
		return nil
	})
}

func roomCmd(fn func(*bancho.State) error) func(*CLI, context.Context, []string) error {
	return func(c *CLI, ctx context.Context, _ []string) error {
		return c.session.Do(ctx, fn)
	}
}

func (c *CLI) cmdSpectate(ctx context.Context, args []string) error {
	id, err := parseUserID(args)
	if err != nil {
		return err
	}
	return c.session.Do(ctx, func(st *bancho.State) error { return st.StartSpectating(id) })
}

func (c *CLI) cmdStopSpectating(ctx context.Context, _ []string) error {
	return c.session.Do(ctx, func(st *bancho.State) error {
		st.StopSpectating()
		return nil
	})
}

func (c *CLI) cmdVars(ctx context.Context, _ []string) error {
	var vars []config.Var
	if err := c.session.Do(ctx, func(st *bancho.State) error {
		vars = st.Vars().List()
		return nil
	}); err != nil {
		return err
	}

	tw := c.table([]string{"Name", "Value", "Default", "Locked"})
	for _, v := range vars {
		tw.Append([]string{v.Name, v.Value, v.Default, yesNo(v.Protected || v.Forced)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <var> <value>")
	}
	name, value := args[0], strings.Join(args[1:], " ")
	err := c.session.Do(ctx, func(st *bancho.State) error {
		if v, ok := st.Vars().Get(name); !ok || v.Flags&config.FlagHidden != 0 {
			return fmt.Errorf("%s: %w", name, config.ErrUnknownVar)
		}
		return st.Vars().Set(name, value)
	})
	if err != nil {
		return err
	}
	c.bus.Emit(ctx, events.Event{
		Type:    events.EventVarsChanged,
		Source:  "cli",
		Payload: events.VarsChangedPayload{Operation: "set", Names: []string{name}},
	})
	log.Info().Str("var", name).Str("value", value).Msg("Variable changed via CLI")
	c.printf("%s = %s\n", name, value)
	return nil
}

func (c *CLI) cmdScores(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args[0]) != 32 {
		return errors.New("usage: scores <md5>")
	}
	md5 := protocol.ParseMD5Hash(args[0])
	if err := c.session.Do(ctx, func(st *bancho.State) error {
		return st.FetchOnlineScores(md5, "", 0, 0)
	}); err != nil {
		return err
	}
	c.printf("Leaderboard requested for %s\n", md5)
	return nil
}

func parseUserID(args []string) (int32, error) {
	if len(args) < 1 {
		return 0, errors.New("user id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id: %s", args[0])
	}
	return int32(id), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package bancho

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/util"
)

// ErrClientStopped is returned by Do and Snapshot after Run has returned.
var ErrClientStopped = errors.New("client stopped")

const (
	tickInterval     = time.Millisecond
	presenceInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// Pump is what the session loop drives every tick.
type Pump interface {
	Net
	Update(ctx context.Context, now time.Time)
	ReceiveBanchoPackets(handle func(*protocol.Packet))
	ReceiveAPIResponses(handle func(connector.APIResponse))
	Wait()
	Status() connector.PumpStatus
}

// Msg is anything the session loop accepts in its inbox.
type Msg interface{ isClientMsg() }

// Command runs Fn on the session loop and replies with its error.
type Command struct {
	Fn    func(*State) error
	Reply chan error
}

func (Command) isClientMsg() {}

// GetSnapshot asks for a copy of the session state.
type GetSnapshot struct {
	Reply chan Snapshot
}

func (GetSnapshot) isClientMsg() {}

// Shutdown stops the loop after logging out.
type Shutdown struct{}

func (Shutdown) isClientMsg() {}

// Snapshot is a read-only copy of the session for the API, CLI and tests.
type Snapshot struct {
	Status            events.SessionStatus `json:"status"`
	UserID            int32                `json:"user_id"`
	Username          string               `json:"username"`
	Endpoint          string               `json:"endpoint"`
	Features          connector.Features   `json:"features"`
	CanSubmitScores   bool                 `json:"can_submit_scores"`
	ServerIconURL     string               `json:"server_icon_url,omitempty"`
	Room              protocol.Room        `json:"room"`
	MatchStarted      bool                 `json:"match_started"`
	InLobby           bool                 `json:"in_lobby"`
	LobbyRooms        []protocol.Room      `json:"lobby_rooms"`
	Spectating        bool                 `json:"spectating"`
	SpectatedPlayerID int32                `json:"spectated_player_id,omitempty"`
	Spectators        []int32              `json:"spectators"`
	FellowSpectators  []int32              `json:"fellow_spectators"`
	Channels          []Channel            `json:"channels"`
	Users             []UserInfo           `json:"users"`
	Friends           []int32              `json:"friends"`
	Pump              connector.PumpStatus `json:"pump"`
}

// Snapshot copies the session state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Status:            s.Status(),
		UserID:            s.UserID(),
		Username:          s.Username(),
		Endpoint:          s.Endpoint(),
		Features:          s.Features(),
		CanSubmitScores:   s.CanSubmitScores(),
		ServerIconURL:     s.serverIconURL,
		Room:              s.room,
		MatchStarted:      s.matchStarted,
		InLobby:           s.lobby.Visible,
		LobbyRooms:        s.lobby.List(),
		Spectating:        s.spectating,
		SpectatedPlayerID: s.spectatedPlayerID,
		Spectators:        append([]int32(nil), s.spectators...),
		FellowSpectators:  append([]int32(nil), s.fellowSpectators...),
		Channels:          s.chat.List(),
		Users:             s.users.List(),
		Friends:           s.users.Friends(),
	}
}

// Client owns a State and runs the session loop that ticks the pump.
type Client struct {
	state     *State
	pump      Pump
	transport connector.Transport
	logger    zerolog.Logger

	inbox        chan Msg
	done         chan struct{}
	lastPresence time.Time
}

// NewClient wires a session to a network pump over transport.
func NewClient(deps Deps, transport connector.Transport) *Client {
	s := NewState(deps)
	pump := connector.NewPump(s, transport, deps.Bus, deps.Metrics)
	s.AttachNet(pump)
	return newClient(s, pump, transport)
}

func newClient(s *State, pump Pump, transport connector.Transport) *Client {
	return &Client{
		state:     s,
		pump:      pump,
		transport: transport,
		logger:    util.ComponentLogger("client"),
		inbox:     make(chan Msg, 64),
		done:      make(chan struct{}),
	}
}

// Run is the session loop. It logs in if autologin is set and returns
// once ctx is cancelled or Shutdown is received, after logging out.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	if c.state.vars.GetBool(config.VarAutologin) {
		c.state.Reconnect(ctx)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case now := <-ticker.C:
			c.step(ctx, now)

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Command:
				msg.Reply <- msg.Fn(c.state)

			case GetSnapshot:
				snap := c.state.Snapshot()
				snap.Pump = c.pump.Status()
				msg.Reply <- snap

			case Shutdown:
				c.shutdown()
				return nil
			}
		}
	}
}

// step runs one tick: send, receive, then apply.
func (c *Client) step(ctx context.Context, now time.Time) {
	c.pump.Update(ctx, now)
	c.pump.ReceiveBanchoPackets(c.state.HandlePacket)

	if now.Sub(c.lastPresence) >= presenceInterval {
		c.lastPresence = now
		c.state.users.RequestPending(c.pump)
	}

	c.pump.ReceiveAPIResponses(c.state.HandleAPIResponse)
}

func (c *Client) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.state.Disconnect(ctx)
	c.pump.Wait()
	c.logger.Info().Msg("Session loop stopped")
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Do runs fn on the session loop and waits for it.
func (c *Client) Do(ctx context.Context, fn func(*State) error) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- Command{Fn: fn, Reply: reply}:
	case <-c.done:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.inbox <- GetSnapshot{Reply: reply}:
	case <-c.done:
		return Snapshot{}, ErrClientStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-c.done:
		return Snapshot{}, ErrClientStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Stop asks the loop to log out and exit.
func (c *Client) Stop() {
	select {
	case c.inbox <- Shutdown{}:
	case <-c.done:
	}
}

// BeginOAuth returns the browser URL for an OAuth login on endpoint.
func (c *Client) BeginOAuth(ctx context.Context, endpoint string) (string, error) {
	var link string
	err := c.Do(ctx, func(s *State) error {
		var err error
		link, err = s.BeginOAuth(endpoint)
		return err
	})
	return link, err
}

// FinishOAuth exchanges the code from the browser callback for a token,
// stores it and logs in. The HTTP exchange runs off the session loop.
func (c *Client) FinishOAuth(ctx context.Context, endpoint, code string) error {
	var proof string
	if err := c.Do(ctx, func(s *State) error {
		proof = s.OAuthVerifier()
		return nil
	}); err != nil {
		return err
	}
	if proof == "" {
		return errors.New("no oauth login in progress")
	}

	resp, err := c.transport.Do(ctx, &connector.Request{
		Method: http.MethodGet,
		URL: "https://" + endpoint + "/connect/finish?code=" + url.QueryEscape(code) +
			"&proof=" + url.QueryEscape(proof),
		Header:  http.Header{"User-Agent": []string{connector.UserAgent}},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to finish oauth login: %w", err)
	}
	token := strings.TrimSpace(string(resp.Body))
	if resp.StatusCode != http.StatusOK || token == "" {
		return fmt.Errorf("oauth login rejected with status %d", resp.StatusCode)
	}

	return c.Do(ctx, func(s *State) error {
		if err := s.vars.SetInternal(config.VarServer, endpoint); err != nil {
			return err
		}
		if err := s.vars.SetInternal(config.VarOAuthToken, token); err != nil {
			return err
		}
		s.Reconnect(ctx)
		return nil
	})
}

package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

// directSession runs commands inline on a State that has no network.
type directSession struct {
	state *bancho.State
}

func (d *directSession) Do(_ context.Context, fn func(*bancho.State) error) error {
	return fn(d.state)
}

func (d *directSession) Snapshot(context.Context) (bancho.Snapshot, error) {
	return d.state.Snapshot(), nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Emit(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) EmitSync(ctx context.Context, e events.Event) error {
	b.Emit(ctx, e)
	return nil
}

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer, *recordingBus, *bancho.State) {
	t.Helper()
	bus := &recordingBus{}
	vars := config.NewVars()
	state := bancho.NewState(bancho.Deps{
		Config:  config.DefaultConfig(),
		Vars:    vars,
		Bus:     bus,
		DataDir: t.TempDir(),
	})
	out := &bytes.Buffer{}
	return NewCLI(&directSession{state: state}, bus, strings.NewReader(""), out), out, bus, state
}

func TestHelpListsCommands(t *testing.T) {
	c, out, _, _ := newTestCLI(t)
	assert.False(t, c.Execute(context.Background(), "help"))
	for _, name := range []string{"login <user> <password> [server]", "say <target> <text>", "quit"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestUnknownCommand(t *testing.T) {
	c, out, _, _ := newTestCLI(t)
	c.Execute(context.Background(), "dance")
	assert.Contains(t, out.String(), "Unknown command: 'dance'")
}

func TestAliases(t *testing.T) {
	c, out, _, _ := newTestCLI(t)
	c.Execute(context.Background(), "s")
	assert.Contains(t, out.String(), "Status:      offline")
}

func TestOfflineCommands(t *testing.T) {
	c, _, _, _ := newTestCLI(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want error
	}{
		{"say #osu hello", bancho.ErrOffline},
		{"lobby", bancho.ErrOffline},
		{"friend 5", bancho.ErrOffline},
		{"spectate 5", bancho.ErrOffline},
		{"join #osu", bancho.ErrOffline},
		{"ready", bancho.ErrNotInRoom},
		{"leave", bancho.ErrNotInRoom},
		{"room", bancho.ErrNotInRoom},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			parts := strings.Fields(tt.line)
			err := c.execute(ctx, parts[0], parts[1:])
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUsageErrors(t *testing.T) {
	c, _, _, _ := newTestCLI(t)
	ctx := context.Background()

	for _, line := range []string{"login alice", "say #osu", "history", "friend abc", "enter x", "set name", "scores short"} {
		t.Run(line, func(t *testing.T) {
			parts := strings.Fields(line)
			assert.Error(t, c.execute(ctx, parts[0], parts[1:]))
		})
	}
}

func TestLoginStoresCredentials(t *testing.T) {
	c, out, _, state := newTestCLI(t)
	c.Execute(context.Background(), "login alice secret neosu.test")

	vars := state.Vars()
	assert.Equal(t, "alice", vars.GetString(config.VarName))
	assert.Equal(t, "secret", vars.GetString(config.VarPassword))
	assert.Equal(t, "neosu.test", vars.GetString(config.VarServer))
	assert.True(t, state.IsLoggingIn())
	assert.Contains(t, out.String(), "Logging in as alice")
}

func TestSetVar(t *testing.T) {
	c, out, bus, state := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.execute(ctx, "set", []string{config.VarChatTicker, "false"}))
	assert.False(t, state.Vars().GetBool(config.VarChatTicker))
	assert.Contains(t, out.String(), config.VarChatTicker+" = false")
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.EventVarsChanged, bus.events[0].Type)

	assert.ErrorIs(t, c.execute(ctx, "set", []string{config.VarPassword, "x"}), config.ErrUnknownVar)

	require.NoError(t, state.Vars().Protect(config.VarFPoSu))
	assert.ErrorIs(t, c.execute(ctx, "set", []string{config.VarFPoSu, "true"}), config.ErrVarProtected)
}

func TestVarsTable(t *testing.T) {
	c, out, _, _ := newTestCLI(t)
	require.NoError(t, c.execute(context.Background(), "vars", nil))
	assert.Contains(t, out.String(), config.VarChatTicker)
	assert.NotContains(t, out.String(), config.VarPassword)
}

func TestQuitEmitsShutdown(t *testing.T) {
	c, _, bus, _ := newTestCLI(t)
	assert.True(t, c.Execute(context.Background(), "quit"))
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.EventShutdown, bus.events[0].Type)
}

func TestStartReadsUntilQuit(t *testing.T) {
	bus := &recordingBus{}
	state := bancho.NewState(bancho.Deps{Config: config.DefaultConfig(), Bus: bus, DataDir: t.TempDir()})
	out := &bytes.Buffer{}
	in := strings.NewReader("status\n\nquit\nstatus\n")

	NewCLI(&directSession{state: state}, bus, in, out).Start(context.Background())

	assert.Equal(t, 1, strings.Count(out.String(), "Status:"))
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.EventShutdown, bus.events[0].Type)
}

func TestHistory(t *testing.T) {
	c, out, _, state := newTestCLI(t)
	ctx := context.Background()

	state.HandlePacket(protocol.NewPacket(protocol.PktUserID, protocol.BuildI32(10)))
	require.NoError(t, c.execute(ctx, "say", []string{"#osu", "hello", "there"}))
	require.NoError(t, c.execute(ctx, "history", []string{"#osu"}))
	assert.Contains(t, out.String(), "hello there")

	assert.Error(t, c.execute(ctx, "history", []string{"#nowhere"}))
}

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/util"
)

type fakeSession struct {
	snap bancho.Snapshot
	err  error
}

func (f *fakeSession) Snapshot(context.Context) (bancho.Snapshot, error) {
	return f.snap, f.err
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

func (b *recordingBus) ofType(t events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(session *fakeSession) (*Manager, *recordingBus, *time.Time) {
	bus := &recordingBus{}
	m := NewManager(config.DefaultConfig(), bus, session)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.diskUsage = func(string) (*util.DiskUsage, error) {
		return &util.DiskUsage{Total: 100, Used: 10, Free: 90, UsedPercent: 10}, nil
	}
	return m, bus, &now
}

func TestStuckLoginReportedOnce(t *testing.T) {
	session := &fakeSession{snap: bancho.Snapshot{Status: events.SessionLoggingIn, Endpoint: "neosu.test"}}
	m, bus, now := newTestManager(session)
	ctx := context.Background()

	m.checkSession(ctx)
	assert.Empty(t, bus.ofType(events.EventToast))

	*now = now.Add(time.Minute)
	m.checkSession(ctx)
	assert.Empty(t, bus.ofType(events.EventToast))

	*now = now.Add(2 * time.Minute)
	m.checkSession(ctx)
	m.checkSession(ctx)
	toasts := bus.ofType(events.EventToast)
	require.Len(t, toasts, 1)
	assert.Contains(t, toasts[0].Payload.(events.ToastPayload).Message, "neosu.test")

	// going online resets the episode
	session.snap.Status = events.SessionOnline
	m.checkSession(ctx)
	assert.True(t, m.loggingInSince.IsZero())
	assert.False(t, m.stuckReported)
}

func TestSessionCheckToleratesStoppedClient(t *testing.T) {
	m, bus, _ := newTestManager(&fakeSession{err: bancho.ErrClientStopped})
	m.checkSession(context.Background())
	m.sendHeartbeat(context.Background())
	assert.Empty(t, bus.events)
}

func TestDiskAlertsOnlyWhenLevelRises(t *testing.T) {
	m, bus, _ := newTestManager(&fakeSession{})
	ctx := context.Background()

	percents := []float64{50, 82, 85, 91, 91, 70, 96}
	for _, p := range percents {
		p := p
		m.diskUsage = func(string) (*util.DiskUsage, error) {
			return &util.DiskUsage{Total: 100, Free: uint64(100 - p), UsedPercent: p}, nil
		}
		m.checkDiskUtilization(ctx)
	}

	toasts := bus.ofType(events.EventToast)
	require.Len(t, toasts, 3)
	assert.Equal(t, events.ToastInfo, toasts[0].Payload.(events.ToastPayload).Level)
	assert.Equal(t, events.ToastInfo, toasts[1].Payload.(events.ToastPayload).Level)
	assert.Equal(t, events.ToastError, toasts[2].Payload.(events.ToastPayload).Level)
	assert.Equal(t, 96.0, m.diskPercent)
}

func TestDiskCheckError(t *testing.T) {
	m, bus, _ := newTestManager(&fakeSession{})
	m.diskUsage = func(string) (*util.DiskUsage, error) { return nil, errors.New("no such volume") }
	m.checkDiskUtilization(context.Background())
	assert.Empty(t, bus.events)
}

func TestDiskLevel(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{10, ""},
		{80, "info"},
		{90, "warning"},
		{95, "error"},
		{100, "critical"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, diskLevel(tt.percent), "%.0f%%", tt.percent)
	}
}

func TestHeartbeat(t *testing.T) {
	session := &fakeSession{snap: bancho.Snapshot{
		Status:   events.SessionOnline,
		UserID:   42,
		Endpoint: "neosu.test",
		Room:     protocol.Room{ID: 3},
		Channels: []bancho.Channel{{Name: "#osu"}, {Name: "#announce"}},
	}}
	m, bus, now := newTestManager(session)
	m.diskPercent = 12.5

	m.sendHeartbeat(context.Background())

	beats := bus.ofType(events.EventHeartbeat)
	require.Len(t, beats, 1)
	hb := beats[0].Payload.(events.HeartbeatPayload)
	assert.Equal(t, events.SessionOnline, hb.Status)
	assert.Equal(t, int32(42), hb.UserID)
	assert.Equal(t, 2, hb.Channels)
	assert.True(t, hb.InRoom)
	assert.Equal(t, 12.5, hb.DiskPercent)
	assert.Equal(t, now.Unix(), hb.Timestamp)
}

func TestStartStopsOnCancel(t *testing.T) {
	m, bus, _ := newTestManager(&fakeSession{snap: bancho.Snapshot{Status: events.SessionOffline}})
	m.checkInterval = 10 * time.Millisecond
	m.heartbeatInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(bus.ofType(events.EventHeartbeat)) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

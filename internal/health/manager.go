// Package health runs periodic checks on the session and the data
// directory, and publishes a heartbeat for MQTT consumers.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/util"
)

const (
	DefaultCheckInterval     = time.Minute
	DefaultHeartbeatInterval = 30 * time.Second

	// A login that has not been answered by then is reported once.
	stuckLoginAfter = 2 * time.Minute
)

// Session is the part of the client the checks read from.
type Session interface {
	Snapshot(ctx context.Context) (bancho.Snapshot, error)
}

// Manager runs periodic health checks.
type Manager struct {
	cfg     *config.Config
	bus     events.Emitter
	session Session

	checkInterval     time.Duration
	heartbeatInterval time.Duration

	diskUsage func(path string) (*util.DiskUsage, error)
	now       func() time.Time

	// owned by the check goroutine
	loggingInSince time.Time
	stuckReported  bool
	diskLevel      string
	diskPercent    float64
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, bus events.Emitter, session Session) *Manager {
	return &Manager{
		cfg:               cfg,
		bus:               bus,
		session:           session,
		checkInterval:     DefaultCheckInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		diskUsage:         util.GetDiskUsage,
		now:               time.Now,
	}
}

// Start runs the checks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := time.NewTicker(m.checkInterval)
	defer checks.Stop()
	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	log.Info().
		Dur("check_interval", m.checkInterval).
		Dur("heartbeat_interval", m.heartbeatInterval).
		Msg("health check manager started")

	// Run immediately on startup
	m.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-checks.C:
			m.runChecks(ctx)
		case <-heartbeat.C:
			m.sendHeartbeat(ctx)
		}
	}
}

func (m *Manager) runChecks(ctx context.Context) {
	m.checkSession(ctx)
	m.checkDiskUtilization(ctx)
}

// checkSession reports a login that never got an answer.
func (m *Manager) checkSession(ctx context.Context) {
	snap, err := m.session.Snapshot(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("session health check skipped")
		return
	}

	if snap.Status != events.SessionLoggingIn {
		m.loggingInSince = time.Time{}
		m.stuckReported = false
		return
	}
	if m.loggingInSince.IsZero() {
		m.loggingInSince = m.now()
		return
	}
	if m.stuckReported || m.now().Sub(m.loggingInSince) < stuckLoginAfter {
		return
	}

	m.stuckReported = true
	log.Warn().
		Str("endpoint", snap.Endpoint).
		Dur("waiting", m.now().Sub(m.loggingInSince)).
		Msg("login has not been answered")
	m.bus.Emit(ctx, events.Event{
		Type:   events.EventToast,
		Source: "health_check",
		Payload: events.ToastPayload{
			Level:   events.ToastError,
			Message: fmt.Sprintf("Still waiting for %s to answer the login.", snap.Endpoint),
		},
	})
}

// checkDiskUtilization watches the volume holding replays and avatars.
// Alerts are raised when the level goes up, not on every check.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := m.cfg.DataDir()
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}
	m.diskPercent = usage.UsedPercent

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskLevel(usage.UsedPercent)
	previous := m.diskLevel
	m.diskLevel = level
	if level == "" || levelRank(level) <= levelRank(previous) {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	log.Warn().Str("level", level).Msg(message)

	toastLevel := events.ToastInfo
	if levelRank(level) >= levelRank("error") {
		toastLevel = events.ToastError
	}
	m.bus.Emit(ctx, events.Event{
		Type:    events.EventToast,
		Source:  "health_check",
		Payload: events.ToastPayload{Level: toastLevel, Message: message},
	})
}

// Alert thresholds: 80%, 90%, 95%, 100%
func diskLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	}
	return ""
}

func levelRank(level string) int {
	switch level {
	case "info":
		return 1
	case "warning":
		return 2
	case "error":
		return 3
	case "critical":
		return 4
	}
	return 0
}

// sendHeartbeat emits a liveness report, which the MQTT handler publishes.
func (m *Manager) sendHeartbeat(ctx context.Context) {
	snap, err := m.session.Snapshot(ctx)
	if err != nil {
		return
	}

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventHeartbeat,
		Source: "heartbeat",
		Payload: events.HeartbeatPayload{
			Status:      snap.Status,
			UserID:      snap.UserID,
			Endpoint:    snap.Endpoint,
			Channels:    len(snap.Channels),
			InRoom:      snap.Room.IsInARoom(),
			Spectating:  snap.Spectating,
			DiskPercent: m.diskPercent,
			Timestamp:   m.now().Unix(),
		},
	})
}

// Package telemetry publishes session events over MQTT and exposes the
// Prometheus collectors used across the client.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicSession = "session"
	TopicChat    = "chat"
	TopicRoom    = "room"
	TopicUsers   = "users"
	TopicScores  = "scores"
	TopicAdmin   = "admin"
)

// topicFor maps an event to the topic suffix it is published on. Events
// that are too chatty or private (toasts, variable changes) are not
// published.
func topicFor(t events.EventType) (string, bool) {
	switch t {
	case events.EventLoggedIn, events.EventLoginFailed, events.EventDisconnected, events.EventSelfStats:
		return TopicSession, true
	case events.EventChatMessage, events.EventChannelUpdated, events.EventChannelLeft:
		return TopicChat, true
	case events.EventLobbyUpdated, events.EventRoomJoined, events.EventRoomJoinFailed, events.EventRoomLeft,
		events.EventRoomUpdated, events.EventMatchStarted, events.EventAllPlayersLoaded,
		events.EventAllPlayersSkipped, events.EventMatchFinished, events.EventMatchAborted:
		return TopicRoom, true
	case events.EventUserStats, events.EventUserPresence, events.EventUserLogout, events.EventFriendsList,
		events.EventSpectatorJoined, events.EventSpectatorLeft, events.EventSpectateStarted,
		events.EventSpectateStopped:
		return TopicUsers, true
	case events.EventLeaderboard, events.EventReplayDownloaded, events.EventScoreSubmitted:
		return TopicScores, true
	case events.EventHeartbeat:
		return TopicAdmin, true
	}
	return "", false
}

// MQTTHandler manages the broker connection and republishes bus events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		prefix:   strings.TrimSuffix(mqttCfg.Topic, "/"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"endpoint":    cfg.GetBancho().Endpoint,
			"app_version": util.Version,
		},
	}
	if handler.prefix == "" {
		handler.prefix = "neosu"
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("neosu-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the broker and republishes events until ctx is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.Subscribe(events.EventAny, "mqtt", h.onEvent)
	defer h.eventBus.Unsubscribe(events.EventAny, "mqtt")

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	suffix, ok := topicFor(event.Type)
	if !ok {
		return nil
	}
	h.publish(h.prefix+"/"+suffix, map[string]interface{}{
		"event":   event.Type,
		"payload": event.Payload,
	})
	return nil
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.prefix+"/"+TopicAdmin, map[string]interface{}{
		"event": events.EventShutdown,
	})
}

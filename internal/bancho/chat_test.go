package bancho

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

func messagePayload(sender, text, recipient string, senderID int32) []byte {
	return protocol.EncodeMessage(protocol.Message{
		Sender:    sender,
		Text:      text,
		Recipient: recipient,
		SenderID:  senderID,
	})
}

func TestReceivePublicMessage(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktRecvMessage, messagePayload("peppy", "hello", "#osu", 2))

	ch, ok := env.state.chat.Get("#osu")
	require.True(t, ok)
	assert.True(t, ch.Unread)
	require.Len(t, ch.Messages, 1)
	assert.Equal(t, "hello", ch.Messages[0].Text)
	assert.Equal(t, int32(2), ch.Messages[0].SenderID)
	assert.Len(t, env.bus.ofType(events.EventChatMessage), 1)
	assert.Empty(t, env.bus.toasts())
}

func TestReceivePrivateMessage(t *testing.T) {
	tests := []struct {
		name   string
		notify string
		toasts int
	}{
		{"with notification", "true", 1},
		{"without notification", "false", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.login(t)
			require.NoError(t, env.vars.Set(config.VarChatNotifyOnDM, tt.notify))

			env.handle(protocol.PktRecvMessage, messagePayload("peppy", "hi there", "tester", 2))

			ch, ok := env.state.chat.Get("peppy")
			require.True(t, ok, "DMs are filed under the sender")
			assert.True(t, ch.IsPrivate())
			assert.Len(t, env.bus.toasts(), tt.toasts)
		})
	}
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.state.SendMessage("#osu", "hi"), ErrOffline)

	env.login(t)
	require.NoError(t, env.state.SendMessage("#osu", "  hi all "))
	require.NoError(t, env.state.SendMessage("peppy", "hi"))
	require.NoError(t, env.state.SendMessage("#osu", "   "))

	require.Equal(t, []uint16{protocol.ReqSendPublicMessage, protocol.ReqSendPrivateMessage}, env.net.ids())
	sent := protocol.DecodeMessage(protocol.NewPacket(0, env.net.packets[0].Payload))
	assert.Equal(t, protocol.Message{Text: "hi all", Recipient: "#osu"}, sent)

	history := env.state.chat.History("#osu")
	require.Len(t, history, 1)
	assert.Equal(t, "tester", history[0].Sender)

	ch, _ := env.state.chat.Get("#osu")
	assert.False(t, ch.Unread, "our own messages are never unread")

	_, ok := env.state.chat.Get("peppy")
	assert.True(t, ok, "our DM is echoed into the conversation")
}

func TestChannelHistoryIsCapped(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	for i := 0; i < maxChannelHistory+25; i++ {
		env.handle(protocol.PktRecvMessage, messagePayload("peppy", fmt.Sprintf("line %d", i), "#osu", 2))
	}
	history := env.state.chat.History("#osu")
	require.Len(t, history, maxChannelHistory)
	assert.Equal(t, "line 25", history[0].Text)
}

func TestJoinAndPartChannel(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.state.JoinChannel("#lobby")
	env.state.JoinChannel("peppy")
	assert.Equal(t, []uint16{protocol.ReqChannelJoin}, env.net.ids())
	_, ok := env.state.chat.Get("peppy")
	assert.True(t, ok)

	env.handle(protocol.PktChannelJoinSuccess, protocol.BuildString("#lobby"))
	env.state.PartChannel("#lobby")
	env.state.PartChannel("peppy")
	assert.Equal(t, []uint16{protocol.ReqChannelJoin, protocol.ReqChannelPart}, env.net.ids())
	assert.Empty(t, env.state.chat.List())
}

func TestMarkAsRead(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktRecvMessage, messagePayload("peppy", "hello", "#osu", 2))

	env.state.MarkAsRead("#osu")
	ch, _ := env.state.chat.Get("#osu")
	assert.False(t, ch.Unread)
	require.Len(t, env.net.api, 1)
	assert.Equal(t, connector.APIMarkAsRead, env.net.api[0].Type)
	assert.Equal(t, connector.MarkAsReadContext{Channel: "#osu"}, env.net.api[0].Context)

	env.state.MarkAsRead("#unknown")
	assert.Len(t, env.net.api, 1)
}

func TestChannelListOrder(t *testing.T) {
	c := newChat()
	c.getOrCreate("zed")
	c.getOrCreate("#osu")
	c.getOrCreate("#announce")
	c.getOrCreate("alice")

	var names []string
	for _, ch := range c.List() {
		names = append(names, ch.Name)
	}
	assert.Equal(t, []string{"#announce", "#osu", "alice", "zed"}, names)
}

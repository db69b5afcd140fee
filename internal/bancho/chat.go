package bancho

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

// maxChannelHistory is how many messages a channel keeps.
const maxChannelHistory = 200

// ChatMessage is one line in a channel.
type ChatMessage struct {
	Time     time.Time `json:"time"`
	SenderID int32     `json:"sender_id"`
	Sender   string    `json:"sender"`
	Text     string    `json:"text"`
}

// Channel is a public channel or a private conversation, which is named
// after the other user.
type Channel struct {
	Name     string        `json:"name"`
	Topic    string        `json:"topic"`
	Members  int32         `json:"members"`
	Joined   bool          `json:"joined"`
	Unread   bool          `json:"unread"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// IsPrivate reports whether the channel is a DM conversation.
func (c *Channel) IsPrivate() bool {
	return !strings.HasPrefix(c.Name, "#")
}

func (c *Channel) add(m ChatMessage) {
	c.Messages = append(c.Messages, m)
	if over := len(c.Messages) - maxChannelHistory; over > 0 {
		c.Messages = append(c.Messages[:0], c.Messages[over:]...)
	}
}

// Chat holds every channel the client knows of.
type Chat struct {
	channels map[string]*Channel
}

func newChat() *Chat {
	return &Chat{channels: make(map[string]*Channel)}
}

func (c *Chat) reset() {
	c.channels = make(map[string]*Channel)
}

// Get returns a channel by name.
func (c *Chat) Get(name string) (*Channel, bool) {
	ch, ok := c.channels[name]
	return ch, ok
}

func (c *Chat) getOrCreate(name string) (*Channel, bool) {
	ch, ok := c.channels[name]
	if !ok {
		ch = &Channel{Name: name}
		c.channels[name] = ch
	}
	return ch, !ok
}

// List returns copies of all channels without their history, sorted with
// public channels first.
func (c *Chat) List() []Channel {
	out := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		cp := *ch
		cp.Messages = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrivate() != out[j].IsPrivate() {
			return !out[i].IsPrivate()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// History returns a copy of a channel's messages.
func (c *Chat) History(name string) []ChatMessage {
	ch, ok := c.channels[name]
	if !ok {
		return nil
	}
	return append([]ChatMessage(nil), ch.Messages...)
}

// addMessage files an incoming message under its channel. Messages to us
// go into a conversation named after the sender.
func (s *State) addMessage(m protocol.Message) {
	name := m.Recipient
	private := !strings.HasPrefix(m.Recipient, "#")
	if private && m.SenderID != s.UserID() {
		name = m.Sender
	}

	ch, _ := s.chat.getOrCreate(name)
	ch.add(ChatMessage{Time: time.Now(), SenderID: m.SenderID, Sender: m.Sender, Text: m.Text})
	if m.SenderID != s.UserID() {
		ch.Unread = true
	}

	s.emit(events.EventChatMessage, events.ChatMessagePayload{
		Channel:  name,
		Sender:   m.Sender,
		SenderID: m.SenderID,
		Text:     m.Text,
	})

	if private && m.SenderID != s.UserID() && s.vars.GetBool(config.VarChatNotifyOnDM) {
		s.toast(events.ToastInfo, fmt.Sprintf("%s: %s", m.Sender, m.Text))
	}
}

// addSystemMessage posts a local notice with no sender id.
func (s *State) addSystemMessage(channel, text string) {
	ch, _ := s.chat.getOrCreate(channel)
	ch.add(ChatMessage{Time: time.Now(), Text: text})
	s.emit(events.EventChatMessage, events.ChatMessagePayload{Channel: channel, Text: text})
}

// updateChannel records CHANNEL_INFO and CHANNEL_AUTO_JOIN. Channels first
// seen right after login are announced in #osu.
func (s *State) updateChannel(info protocol.ChannelInfo, joined bool) {
	ch, created := s.chat.getOrCreate(info.Name)
	ch.Topic = info.Topic
	ch.Members = info.Members
	if joined {
		ch.Joined = true
	}

	if created && s.printNewChannels {
		s.addSystemMessage("#osu", fmt.Sprintf("%s (%d): %s", info.Name, info.Members, info.Topic))
	}
	s.emitChannel(ch)
}

func (s *State) emitChannel(ch *Channel) {
	s.emit(events.EventChannelUpdated, events.ChannelPayload{
		Name:    ch.Name,
		Topic:   ch.Topic,
		Members: ch.Members,
		Joined:  ch.Joined,
	})
}

// removeChannel forgets a channel locally.
func (s *State) removeChannel(name string) {
	if _, ok := s.chat.channels[name]; !ok {
		return
	}
	delete(s.chat.channels, name)
	s.emit(events.EventChannelLeft, events.ChannelPayload{Name: name})
}

// JoinChannel asks the server to join a public channel.
func (s *State) JoinChannel(name string) {
	if !strings.HasPrefix(name, "#") {
		s.chat.getOrCreate(name)
		return
	}
	s.send(protocol.ReqChannelJoin, protocol.BuildString(name))
}

// PartChannel leaves a channel and forgets it.
func (s *State) PartChannel(name string) {
	if strings.HasPrefix(name, "#") {
		s.send(protocol.ReqChannelPart, protocol.BuildString(name))
	}
	s.removeChannel(name)
}

// SendMessage sends text to a channel, or to a user when the target does
// not start with '#', and echoes it locally.
func (s *State) SendMessage(target, text string) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	msg := protocol.Message{
		Sender:    s.Username(),
		Text:      text,
		Recipient: target,
		SenderID:  s.UserID(),
	}
	id := protocol.ReqSendPublicMessage
	if !strings.HasPrefix(target, "#") {
		id = protocol.ReqSendPrivateMessage
	}
	s.send(id, protocol.EncodeMessage(protocol.Message{Text: text, Recipient: target}))

	s.addMessage(msg)
	return nil
}

// MarkAsRead clears the unread flag and tells the server.
func (s *State) MarkAsRead(channel string) {
	ch, ok := s.chat.Get(channel)
	if !ok {
		return
	}
	ch.Unread = false
	if !s.IsOnline() {
		return
	}
	s.sendAPI(connector.APIRequest{
		Type:    connector.APIMarkAsRead,
		Path:    connector.MarkAsReadPath(s.credentials(), channel),
		Context: connector.MarkAsReadContext{Channel: channel},
	})
}

package protocol

// Message is a chat line as carried by RECV_MESSAGE, MATCH_INVITE and the
// DM-blocked/silenced notices. Outgoing messages use the same layout with
// SenderID 0.
type Message struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Recipient string `json:"recipient"`
	SenderID  int32  `json:"sender_id"`
}

// DecodeMessage reads [sender:str][text:str][recipient:str][sender_id:4].
func DecodeMessage(p *Packet) Message {
	return Message{
		Sender:    p.ReadString(),
		Text:      p.ReadString(),
		Recipient: p.ReadString(),
		SenderID:  p.ReadI32(),
	}
}

// EncodeMessage builds a SEND_PUBLIC_MESSAGE / SEND_PRIVATE_MESSAGE payload.
func EncodeMessage(m Message) []byte {
	return NewPacketBuilder().
		WriteString(m.Sender).
		WriteString(m.Text).
		WriteString(m.Recipient).
		WriteI32(m.SenderID).
		Build()
}

// ChannelInfo is the payload of CHANNEL_INFO and CHANNEL_AUTO_JOIN.
type ChannelInfo struct {
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Members int32  `json:"members"`
}

// DecodeChannelInfo reads [name:str][topic:str][members:4].
func DecodeChannelInfo(p *Packet) ChannelInfo {
	return ChannelInfo{
		Name:    p.ReadString(),
		Topic:   p.ReadString(),
		Members: p.ReadI32(),
	}
}

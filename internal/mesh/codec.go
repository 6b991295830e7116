package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownFrame = errors.New("unrecognized mesh frame")

// Codec converts between domain messages and broker payloads.
//
// Decode returns ErrUnknownFrame (possibly wrapped) for frames that are not
// meaningful to the relay; callers drop those.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(b []byte) (Message, error)
}

// JSONCodec speaks the Meshtastic MQTT JSON format.
//
// Downlink (what we publish) uses "sendtext" with a string payload; uplink
// (what gateways publish) carries an object payload keyed by packet type.
type JSONCodec struct{}

type envelope struct {
	ID        uint32          `json:"id,omitempty"`
	From      uint32          `json:"from"`
	To        *uint32         `json:"to,omitempty"`
	Channel   int             `json:"channel"`
	Type      string          `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type textPayload struct {
	Text string `json:"text"`
}

func (JSONCodec) Encode(m Message) ([]byte, error) {
	env := envelope{From: m.From, Channel: m.Channel, Type: m.Type}
	to := m.To
	if to == 0 {
		to = Broadcast
	}

	var err error
	switch m.Type {
	case TypeSendText, TypeText:
		env.Type = TypeSendText
		env.To = &to
		env.Payload, err = json.Marshal(m.Text)
	case TypeNodeInfo:
		if m.Node == nil {
			return nil, fmt.Errorf("encode nodeinfo: node info required")
		}
		env.Payload, err = json.Marshal(m.Node)
	default:
		return nil, fmt.Errorf("encode: unsupported message type %q", m.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrUnknownFrame, err)
	}

	m := Message{
		ID:      env.ID,
		From:    env.From,
		To:      Broadcast,
		Channel: env.Channel,
		Type:    env.Type,
		Sender:  env.Sender,
	}
	if env.To != nil {
		m.To = *env.To
	}
	if env.Timestamp > 0 {
		m.Timestamp = time.Unix(env.Timestamp, 0).UTC()
	}

	switch env.Type {
	case TypeText:
		var p textPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: text payload: %v", ErrUnknownFrame, err)
		}
		m.Text = p.Text
	case TypeNodeInfo:
		var n NodeInfo
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return Message{}, fmt.Errorf("%w: nodeinfo payload: %v", ErrUnknownFrame, err)
		}
		m.Node = &n
	case TypePosition:
	default:
		return Message{}, fmt.Errorf("%w: type %q", ErrUnknownFrame, env.Type)
	}
	return m, nil
}

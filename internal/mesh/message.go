package mesh

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Broadcast is the destination node number for "everyone on the channel".
const Broadcast uint32 = 0xFFFFFFFF

// Message types as they appear in the "type" field of the JSON envelope.
const (
	TypeText     = "text"     // uplink text message
	TypeSendText = "sendtext" // downlink text message
	TypeNodeInfo = "nodeinfo"
	TypePosition = "position"
)

// Message is a decoded mesh packet, or one to be encoded.
type Message struct {
	ID        uint32
	From      uint32
	To        uint32
	Channel   int
	Type      string
	Text      string
	Sender    string // gateway node that uplinked the packet ("!xxxxxxxx")
	Timestamp time.Time
	Node      *NodeInfo
}

// NodeInfo is the identity a node announces to the mesh.
type NodeInfo struct {
	ID        string `json:"id"`
	LongName  string `json:"longname"`
	ShortName string `json:"shortname"`
	HWModel   int    `json:"hardware,omitempty"`
}

// IsDirect reports whether the message was addressed to node rather than broadcast.
func (m Message) IsDirect(node uint32) bool {
	return m.To == node && m.To != Broadcast
}

// FormatNodeID renders a node number the way Meshtastic displays it ("!a1b2c3d4").
func FormatNodeID(n uint32) string {
	return fmt.Sprintf("!%08x", n)
}

// ParseNodeID accepts "!a1b2c3d4", "a1b2c3d4" or a decimal node number.
func ParseNodeID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("node id required")
	}
	if strings.HasPrefix(s, "!") {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q", s)
		}
		return uint32(v), nil
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return uint32(v), nil
}

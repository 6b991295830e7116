package relay

import (
	"time"

	"potamesh/internal/eventbus"
	"potamesh/internal/mesh"
	"potamesh/internal/spot"
)

// NewSpots carries the spots a scrape cycle saw for the first time, in scrape order.
type NewSpots struct {
	Spots []spot.Spot
	At    time.Time
}

// Received carries one decoded inbound mesh message.
type Received struct {
	Message mesh.Message
}

// Command sources.
const (
	SourceMesh     = "mesh"
	SourceTelegram = "telegram"
)

// Command is an operator instruction. From is the originating identity
// (mesh node id or Telegram user id).
type Command struct {
	Text   string
	From   string
	Source string
}

// Buses groups the independent event channels connecting the relay tasks.
type Buses struct {
	Spots    *eventbus.Bus[NewSpots]
	Received *eventbus.Bus[Received]
	Commands *eventbus.Bus[Command]
}

func NewBuses() Buses {
	return Buses{
		Spots:    eventbus.New[NewSpots](),
		Received: eventbus.New[Received](),
		Commands: eventbus.New[Command](),
	}
}

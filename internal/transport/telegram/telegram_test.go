package telegram

import (
	"testing"

	"potamesh/internal/eventbus"
	"potamesh/internal/relay"
	logx "potamesh/pkg/logx"
)

func TestHandlePublishesOwnerCommands(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[relay.Command]()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	state := relay.NewState(true)
	a, err := newAdapter([]int64{42}, bus, state, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		text  string
		reply string
	}{
		{"/disable", "queued: disable"},
		{"enable please", "queued: enable"},
		{"/status@potabot", "relay is enabled"},
		{"/frobnicate", "unknown command; use /enable, /disable or /status"},
	}
	for _, tt := range tests {
		if got := a.Handle(42, tt.text); got != tt.reply {
			t.Fatalf("Handle(%q) = %q, want %q", tt.text, got, tt.reply)
		}
		select {
		case cmd := <-events:
			if cmd.Text != tt.text || cmd.From != "42" || cmd.Source != relay.SourceTelegram {
				t.Fatalf("command = %+v", cmd)
			}
		default:
			t.Fatalf("Handle(%q) published nothing", tt.text)
		}
	}
}

func TestHandleIgnoresNonOwnersAndBlank(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[relay.Command]()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	a, _ := newAdapter([]int64{42}, bus, relay.NewState(true), logx.Nop())

	if got := a.Handle(7, "/disable"); got != "" {
		t.Fatalf("non-owner got reply %q", got)
	}
	if got := a.Handle(42, "   "); got != "" {
		t.Fatalf("blank got reply %q", got)
	}
	select {
	case cmd := <-events:
		t.Fatalf("unexpected command %+v", cmd)
	default:
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, eventbus.New[relay.Command](), relay.NewState(true), logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := newAdapter(nil, eventbus.New[relay.Command](), relay.NewState(true), logx.Nop()); err == nil {
		t.Fatal("expected error without owners")
	}
}

func TestHandleReportsDroppedCommand(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[relay.Command]()
	events, unsub := bus.Subscribe(1)
	defer unsub()
	a, err := newAdapter([]int64{42}, bus, relay.NewState(true), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if got := a.Handle(42, "/disable"); got != "queued: disable" {
		t.Fatalf("first reply = %q", got)
	}
	// The consumer has not drained the first command, so the second is dropped.
	if got := a.Handle(42, "/enable"); got != "busy: enable was not applied, try again" {
		t.Fatalf("second reply = %q", got)
	}
	if got := a.Handle(42, "/status"); got != "relay is enabled" {
		t.Fatalf("status reply = %q", got)
	}
	if cmd := <-events; relay.ParseVerb(cmd.Text) != relay.VerbDisable {
		t.Fatalf("queued command = %+v", cmd)
	}
	if bus.Dropped() != 2 {
		t.Fatalf("Dropped = %d, want 2", bus.Dropped())
	}
}

func TestHandleWithoutConsumerIsBusy(t *testing.T) {
	t.Parallel()
	a, err := newAdapter([]int64{7}, eventbus.New[relay.Command](), relay.NewState(false), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Handle(7, "enable"); got != "busy: enable was not applied, try again" {
		t.Fatalf("reply = %q", got)
	}
}

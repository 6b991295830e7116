package relay

import (
	"context"
	"strings"
	"testing"

	"potamesh/internal/eventbus"
	"potamesh/internal/mesh"
	logx "potamesh/pkg/logx"
)

func TestParseVerb(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"enable":          "enable",
		"  Disable now ":  "disable",
		"/enable":         "enable",
		"/STATUS@potabot": "status",
		"":                "",
		"   ":             "",
	}
	for in, want := range tests {
		if got := ParseVerb(in); got != want {
			t.Fatalf("ParseVerb(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommanderHandle(t *testing.T) {
	t.Parallel()
	var logs syncBuffer
	state := NewState(true)
	c, err := NewCommander(eventbus.New[Command](), state, logx.NewWriter(&logs, "debug"), nil)
	if err != nil {
		t.Fatal(err)
	}

	c.Handle(Command{Text: "disable", From: "!00000001", Source: SourceMesh})
	if state.Enabled() {
		t.Fatal("disable did not clear state")
	}
	c.Handle(Command{Text: "enable", From: "!00000001", Source: SourceMesh})
	if !state.Enabled() {
		t.Fatal("enable did not set state")
	}

	c.Handle(Command{Text: "frobnicate", From: "42", Source: SourceTelegram})
	if !state.Enabled() {
		t.Fatal("unknown command changed state")
	}
	out := logs.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "unknown command") {
		t.Fatalf("expected warning for unknown command, logs:\n%s", out)
	}

	c.Handle(Command{Text: "", Source: SourceTelegram})
	if !state.Enabled() {
		t.Fatal("empty command changed state")
	}
}

func TestCommanderRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[Command]()
	state := NewState(true)
	c, _ := NewCommander(bus, state, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c.Run)
	waitFor(t, "subscription", func() bool { return bus.Subscribers() == 1 })

	bus.Publish(Command{Text: "disable", Source: SourceTelegram})
	waitFor(t, "state disabled", func() bool { return !state.Enabled() })

	cancel()
	waitResult(t, done)
}

func TestMeshCommandsFilter(t *testing.T) {
	t.Parallel()
	const relayNode = 0x12345678
	f, err := NewMeshCommands(MeshCommandConfig{NodeID: relayNode, Allow: []uint32{1}}, eventbus.New[Received](), eventbus.New[Command](), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		msg  mesh.Message
		ok   bool
	}{
		{"direct from allowed", mesh.Message{Type: mesh.TypeText, From: 1, To: relayNode, Text: "disable"}, true},
		{"broadcast", mesh.Message{Type: mesh.TypeText, From: 1, To: mesh.Broadcast, Text: "disable"}, false},
		{"other node", mesh.Message{Type: mesh.TypeText, From: 1, To: 99, Text: "disable"}, false},
		{"not allowed", mesh.Message{Type: mesh.TypeText, From: 2, To: relayNode, Text: "disable"}, false},
		{"not text", mesh.Message{Type: mesh.TypePosition, From: 1, To: relayNode}, false},
		{"blank", mesh.Message{Type: mesh.TypeText, From: 1, To: relayNode, Text: "  "}, false},
	}
	for _, tt := range tests {
		cmd, ok := f.Filter(tt.msg)
		if ok != tt.ok {
			t.Fatalf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
		}
		if ok && (cmd.From != "!00000001" || cmd.Source != SourceMesh || cmd.Text != "disable") {
			t.Fatalf("%s: cmd = %+v", tt.name, cmd)
		}
	}
}

func TestMeshCommandsEndToEnd(t *testing.T) {
	t.Parallel()
	const relayNode = 0x12345678
	received := eventbus.New[Received]()
	commands := eventbus.New[Command]()
	state := NewState(true)

	f, _ := NewMeshCommands(MeshCommandConfig{NodeID: relayNode}, received, commands, logx.Nop())
	c, _ := NewCommander(commands, state, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	fDone := runAsync(ctx, f.Run)
	cDone := runAsync(ctx, c.Run)
	waitFor(t, "subscriptions", func() bool { return received.Subscribers() == 1 && commands.Subscribers() == 1 })

	received.Publish(Received{Message: mesh.Message{Type: mesh.TypeText, From: 7, To: relayNode, Text: "disable"}})
	waitFor(t, "relay disabled", func() bool { return !state.Enabled() })

	cancel()
	waitResult(t, fDone)
	waitResult(t, cDone)
}

func TestMeshCommandsWarnsWhenCommandDropped(t *testing.T) {
	t.Parallel()
	const relayNode = 0x12345678
	received := eventbus.New[Received]()
	commands := eventbus.New[Command]()
	var logs syncBuffer
	f, _ := NewMeshCommands(MeshCommandConfig{NodeID: relayNode}, received, commands, logx.NewWriter(&logs, "debug"))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, f.Run)
	waitFor(t, "subscription", func() bool { return received.Subscribers() == 1 })

	// No command consumer is subscribed, so the command has nowhere to go.
	received.Publish(Received{Message: mesh.Message{Type: mesh.TypeText, From: 7, To: relayNode, Text: "disable"}})
	waitFor(t, "drop warning", func() bool { return strings.Contains(logs.String(), "command dropped") })

	cancel()
	waitResult(t, done)
}

func TestNewMeshCommandsRequiresNodeID(t *testing.T) {
	t.Parallel()
	if _, err := NewMeshCommands(MeshCommandConfig{}, eventbus.New[Received](), eventbus.New[Command](), logx.Nop()); err == nil {
		t.Fatal("expected error without node id")
	}
}

func TestStateSetReportsChange(t *testing.T) {
	t.Parallel()
	s := NewState(true)
	if s.Set(true) {
		t.Fatal("Set(true) on enabled state reported change")
	}
	if !s.Set(false) || s.Enabled() {
		t.Fatal("Set(false) did not change state")
	}
}

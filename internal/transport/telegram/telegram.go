// Package telegram is the optional operator command channel: text sent to the
// bot by an owner becomes a relay command.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"potamesh/internal/eventbus"
	"potamesh/internal/relay"
	logx "potamesh/pkg/logx"
)

const defaultPollTimeout = 10 * time.Second

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
}

// Adapter long-polls the Bot API and publishes owner commands on the command bus.
type Adapter struct {
	bot      *tele.Bot
	owners   map[int64]struct{}
	commands *eventbus.Bus[relay.Command]
	state    *relay.State
	log      logx.Logger
}

func New(cfg Config, commands *eventbus.Bus[relay.Command], state *relay.State, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	a, err := newAdapter(cfg.OwnerUserIDs, commands, state, log)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func newAdapter(owners []int64, commands *eventbus.Bus[relay.Command], state *relay.State, log logx.Logger) (*Adapter, error) {
	if commands == nil || state == nil {
		return nil, errors.New("telegram: command bus and state are required")
	}
	if len(owners) == 0 {
		return nil, errors.New("telegram: at least one owner user id is required")
	}
	a := &Adapter{
		owners:   make(map[int64]struct{}, len(owners)),
		commands: commands,
		state:    state,
		log:      log.Comp("telegram"),
	}
	for _, id := range owners {
		a.owners[id] = struct{}{}
	}
	return a, nil
}

// Run polls until ctx is done. telebot's Start blocks until Stop.
func (a *Adapter) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.bot.Stop()
		case <-done:
		}
	}()

	a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
	a.bot.Start()
	a.log.Info("polling stopped")
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("telegram: polling stopped unexpectedly")
}

func (a *Adapter) onText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	reply := a.Handle(sender.ID, c.Text())
	if reply == "" {
		return nil
	}
	return c.Send(reply)
}

// Handle turns one message into a command and returns the text to reply with.
// Messages from non-owners are dropped without a reply.
func (a *Adapter) Handle(userID int64, text string) string {
	if _, ok := a.owners[userID]; !ok {
		a.log.Warn("ignoring message from non-owner", logx.Int64("user_id", userID))
		return ""
	}
	verb := relay.ParseVerb(text)
	if verb == "" {
		return ""
	}
	queued := a.commands.Publish(relay.Command{
		Text:   text,
		From:   strconv.FormatInt(userID, 10),
		Source: relay.SourceTelegram,
	}) > 0

	switch verb {
	case relay.VerbEnable, relay.VerbDisable:
		if !queued {
			a.log.Warn("command dropped; command queue full", logx.String("verb", verb))
			return "busy: " + verb + " was not applied, try again"
		}
		return "queued: " + verb
	case relay.VerbStatus:
		if a.state.Enabled() {
			return "relay is enabled"
		}
		return "relay is disabled"
	default:
		return "unknown command; use /enable, /disable or /status"
	}
}

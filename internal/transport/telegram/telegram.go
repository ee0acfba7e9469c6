// Package telegram is the notification transport: it delivers reminder
// messages with inline snooze/dismiss actions and routes button presses
// back into the delivery handler.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"sugarbot/internal/reminder"
)

// defaultRatePerSec stays under Telegram's global bot send limit.
const defaultRatePerSec = 25

type Config struct {
	Token       string
	PollTimeout time.Duration
	RatePerSec  int
}

type Transport struct {
	bot      *tele.Bot
	limiter  *rate.Limiter
	log      zerolog.Logger
	delivery *reminder.Delivery
}

func New(cfg Config, log zerolog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	t := &Transport{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
	t.registerHandlers()
	return t, nil
}

// RegisterDelivery wires the delivery handler the callback routes call into.
// Must happen before Start.
func (t *Transport) RegisterDelivery(d *reminder.Delivery) { t.delivery = d }

// Start begins long-polling in its own goroutine and returns.
func (t *Transport) Start() {
	go t.bot.Start()
	t.log.Info().Msg("telegram transport started")
}

func (t *Transport) Stop() {
	t.bot.Stop()
	t.log.Info().Msg("telegram transport stopped")
}

// Send delivers one notification, translating actions to an inline
// keyboard. Outbound sends share a rate limiter so a large GC-triggered
// burst cannot trip Telegram's flood control.
func (t *Transport) Send(ctx context.Context, chatID int64, text string, actions []reminder.Action) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	var opts []any
	if len(actions) > 0 {
		row := make([]tele.InlineButton, 0, len(actions))
		for _, a := range actions {
			row = append(row, tele.InlineButton{Text: a.Label, Data: a.Data})
		}
		opts = append(opts, &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}})
	}
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, opts...)
	return err
}

func (t *Transport) registerHandlers() {
	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		// Callback data follows "remind:<action>:<id>[:<minutes>]".
		data := strings.TrimPrefix(cb.Data, "\f")
		resp := t.routeCallback(data)
		return c.Respond(&tele.CallbackResponse{Text: resp})
	})
}

// routeCallback dispatches one inline button press. Responses are short ack
// strings shown as a toast.
func (t *Transport) routeCallback(data string) string {
	parts := strings.Split(data, ":")
	if len(parts) < 3 || parts[0] != "remind" || t.delivery == nil {
		return ""
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch parts[1] {
	case "snooze":
		if len(parts) != 4 {
			return ""
		}
		minutes, err := strconv.Atoi(parts[3])
		if err != nil {
			return ""
		}
		if err := t.delivery.Snooze(ctx, id, minutes); err != nil {
			t.log.Error().Int64("reminder_id", id).Err(err).Msg("snooze failed")
			return "Snooze failed"
		}
		return "Snoozed for " + parts[3] + " min"
	case "dismiss":
		if err := t.delivery.Dismiss(ctx, id); err != nil {
			t.log.Error().Int64("reminder_id", id).Err(err).Msg("dismiss failed")
			return ""
		}
		return "Dismissed"
	}
	return ""
}

var _ reminder.Transport = (*Transport)(nil)

// Package telegram adapts Telegram (via telebot) to the transport
// contract. Slowmode maps to a group's slow_mode_delay; flood errors map
// to the rate-limit signal.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"rotor/internal/transport"
	"rotor/pkg/logx"
)

type Config struct {
	// ChatIDs are the destinations a session may enumerate; Telegram has
	// no "list my chats" API, so ListTargets resolves these.
	ChatIDs []int64

	PollTimeout time.Duration
}

type Transport struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Transport {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Transport{cfg: cfg, log: log}
}

// Authenticate builds a bot from the token. telebot verifies the token
// against getMe during construction, so a rejected credential surfaces
// here as AuthError.
func (t *Transport) Authenticate(ctx context.Context, cred transport.Credential) (transport.Session, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  cred.Token,
		Poller: &tele.LongPoller{Timeout: t.cfg.PollTimeout},
	})
	if err != nil {
		return nil, &transport.AuthError{Cause: err}
	}
	return &session{cfg: t.cfg, log: t.log, bot: b}, nil
}

type session struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func (s *session) PostMessage(ctx context.Context, targetID, content string, asEmbed bool) (transport.Ack, error) {
	chatID, err := parseChatID(targetID)
	if err != nil {
		return transport.Ack{}, err
	}
	// Telegram has no embed concept; emphasized HTML is the closest match.
	opts := &tele.SendOptions{}
	text := content
	if asEmbed {
		opts.ParseMode = tele.ModeHTML
		text = "<b>" + content + "</b>"
	}
	msg, err := s.bot.Send(tele.ChatID(chatID), text, opts)
	if err != nil {
		return transport.Ack{}, mapError(err)
	}
	return transport.Ack{MessageID: strconv.Itoa(msg.ID), At: msg.Time()}, nil
}

// QueryRateLimit reads the chat's slow_mode_delay through the raw API so
// we don't depend on client-side struct coverage.
func (s *session) QueryRateLimit(ctx context.Context, targetID string) (time.Duration, error) {
	chatID, err := parseChatID(targetID)
	if err != nil {
		return 0, err
	}
	raw, err := s.bot.Raw("getChat", map[string]any{"chat_id": chatID})
	if err != nil {
		return 0, mapError(err)
	}
	var resp struct {
		Result struct {
			SlowModeDelay int `json:"slow_mode_delay"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("getChat decode: %w", err)
	}
	return time.Duration(resp.Result.SlowModeDelay) * time.Second, nil
}

func (s *session) ListTargets(ctx context.Context) ([]transport.Target, error) {
	out := make([]transport.Target, 0, len(s.cfg.ChatIDs))
	for _, id := range s.cfg.ChatIDs {
		chat, err := s.bot.ChatByID(id)
		if err != nil {
			s.log.Debug("chat resolve failed", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		name := chat.Title
		if name == "" {
			name = chat.Username
		}
		out = append(out, transport.Target{
			ID:   strconv.FormatInt(chat.ID, 10),
			Name: name,
			Kind: string(chat.Type),
		})
	}
	return out, nil
}

// JoinTarget is unavailable: the Bot API has no joinChat call, bots get
// into chats by being added by a member.
func (s *session) JoinTarget(ctx context.Context, invite string) (transport.Target, error) {
	return transport.Target{}, transport.ErrNotSupported
}

func (s *session) SendTyping(ctx context.Context, targetID string) error {
	chatID, err := parseChatID(targetID)
	if err != nil {
		return err
	}
	return s.bot.Notify(tele.ChatID(chatID), tele.Typing)
}

func (s *session) Close() error { return nil }

func parseChatID(targetID string) (int64, error) {
	id, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: target %q is not a chat id: %w", targetID, err)
	}
	return id, nil
}

// mapError translates telebot errors into the transport taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var flood *tele.FloodError
	if errors.As(err, &flood) {
		return &transport.RateLimitedError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return &transport.AuthError{Cause: err}
	}
	return err
}

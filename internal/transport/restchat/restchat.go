// Package restchat adapts a generic JSON-over-HTTP chat API to the
// transport contract. Endpoint shapes follow the common REST chat
// conventions: token auth header, per-channel message posts, channel
// metadata carrying the enforced per-user interval, and 429 responses
// with a Retry-After.
package restchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rotor/internal/transport"
	"rotor/pkg/logx"
)

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// RatePerSec caps outbound requests per session. Defaults to 5.
	RatePerSec int
	// GuildID scopes ListTargets channel enumeration (optional).
	GuildID string
}

type Transport struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("restchat: base url is empty")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Transport{cfg: cfg, log: log}, nil
}

// Authenticate verifies the credential against the identity endpoint and
// returns a live session bound to it.
func (t *Transport) Authenticate(ctx context.Context, cred transport.Credential) (transport.Session, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, &transport.AuthError{Cause: fmt.Errorf("empty token")}
	}
	s := &session{
		cfg:     t.cfg,
		log:     t.log,
		token:   cred.Token,
		http:    &http.Client{Timeout: t.cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(t.cfg.RatePerSec), t.cfg.RatePerSec),
	}
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := s.do(ctx, http.MethodGet, "/users/@me", nil, &me); err != nil {
		return nil, err
	}
	s.userID = me.ID
	t.log.Debug("session authenticated", logx.String("user", me.Username))
	return s, nil
}

type session struct {
	cfg     Config
	log     logx.Logger
	token   string
	userID  string
	http    *http.Client
	limiter *rate.Limiter
}

type messagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Description string `json:"description"`
}

func (s *session) PostMessage(ctx context.Context, targetID, content string, asEmbed bool) (transport.Ack, error) {
	payload := messagePayload{}
	if asEmbed {
		payload.Embeds = []embed{{Description: content}}
	} else {
		payload.Content = content
	}

	var resp struct {
		ID string `json:"id"`
	}
	err := s.do(ctx, http.MethodPost, "/channels/"+targetID+"/messages", payload, &resp)
	if err != nil {
		return transport.Ack{}, err
	}
	return transport.Ack{MessageID: resp.ID, At: time.Now()}, nil
}

func (s *session) QueryRateLimit(ctx context.Context, targetID string) (time.Duration, error) {
	var ch struct {
		RateLimitPerUser int `json:"rate_limit_per_user"`
	}
	if err := s.do(ctx, http.MethodGet, "/channels/"+targetID, nil, &ch); err != nil {
		return 0, err
	}
	return time.Duration(ch.RateLimitPerUser) * time.Second, nil
}

func (s *session) ListTargets(ctx context.Context) ([]transport.Target, error) {
	var guilds []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := s.do(ctx, http.MethodGet, "/users/@me/guilds", nil, &guilds); err != nil {
		return nil, err
	}
	out := make([]transport.Target, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, transport.Target{ID: g.ID, Name: g.Name, Kind: "server"})
	}

	if gid := strings.TrimSpace(s.cfg.GuildID); gid != "" {
		var channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type int    `json:"type"`
		}
		if err := s.do(ctx, http.MethodGet, "/guilds/"+gid+"/channels", nil, &channels); err != nil {
			// Channel enumeration is best-effort; servers alone are useful.
			s.log.Debug("channel enumeration failed", logx.String("guild", gid), logx.Err(err))
			return out, nil
		}
		for _, c := range channels {
			if c.Type != 0 { // text channels only
				continue
			}
			out = append(out, transport.Target{ID: c.ID, Name: c.Name, Kind: "channel"})
		}
	}
	return out, nil
}

// JoinTarget redeems an invite code. The API returns the joined server
// and (when the invite points at one) the channel it lands in.
func (s *session) JoinTarget(ctx context.Context, invite string) (transport.Target, error) {
	code := strings.TrimSpace(invite)
	if i := strings.LastIndexByte(code, '/'); i >= 0 {
		// Accept full invite URLs as well as bare codes.
		code = code[i+1:]
	}
	if code == "" {
		return transport.Target{}, fmt.Errorf("restchat: empty invite")
	}

	var resp struct {
		Guild struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"guild"`
		Channel struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channel"`
	}
	if err := s.do(ctx, http.MethodPost, "/invites/"+code, struct{}{}, &resp); err != nil {
		return transport.Target{}, err
	}
	if resp.Channel.ID != "" {
		return transport.Target{ID: resp.Channel.ID, Name: resp.Channel.Name, Kind: "channel"}, nil
	}
	return transport.Target{ID: resp.Guild.ID, Name: resp.Guild.Name, Kind: "server"}, nil
}

func (s *session) SendTyping(ctx context.Context, targetID string) error {
	return s.do(ctx, http.MethodPost, "/channels/"+targetID+"/typing", nil, nil)
}

func (s *session) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// do performs one API request: limiter wait, auth header, status mapping.
func (s *session) do(ctx context.Context, method, path string, body, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &transport.RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &transport.AuthError{Cause: fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)}
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retryAfter parses the 429 wait from the Retry-After header, falling
// back to the JSON body's retry_after (seconds, possibly fractional).
func retryAfter(resp *http.Response) time.Duration {
	if h := strings.TrimSpace(resp.Header.Get("Retry-After")); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	return 0
}

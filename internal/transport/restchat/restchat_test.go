package restchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rotor/internal/transport"
	"rotor/pkg/logx"
)

// newTestServer fakes the chat API with one account, one channel in
// 30-second slowmode, and a scriptable message endpoint.
func newTestServer(t *testing.T, postStatus int, postBody string) (*httptest.Server, transport.Session) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "username": "alpha"})
	})
	mux.HandleFunc("GET /channels/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"rate_limit_per_user": 30})
	})
	mux.HandleFunc("POST /channels/42/messages", func(w http.ResponseWriter, r *http.Request) {
		if postStatus == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "45")
		}
		w.WriteHeader(postStatus)
		_, _ = w.Write([]byte(postBody))
	})
	mux.HandleFunc("POST /channels/42/typing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "g1", "name": "Guild One"}})
	})
	mux.HandleFunc("POST /invites/{code}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("code") != "inv42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"guild":   map[string]string{"id": "g2", "name": "Guild Two"},
			"channel": map[string]string{"id": "77", "name": "landing"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tp, err := New(Config{BaseURL: srv.URL, RatePerSec: 100}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := tp.Authenticate(context.Background(), transport.Credential{Token: "good-token"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return srv, sess
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, http.StatusOK, `{"id":"m1"}`)

	tp, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tp.Authenticate(context.Background(), transport.Credential{Token: "bad-token"})
	if !transport.IsAuth(err) {
		t.Fatalf("Authenticate error = %v, want AuthError", err)
	}
	if _, err := tp.Authenticate(context.Background(), transport.Credential{}); !transport.IsAuth(err) {
		t.Fatalf("empty token error = %v, want AuthError", err)
	}
}

func TestPostMessage(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusOK, `{"id":"m123"}`)

	ack, err := sess.PostMessage(context.Background(), "42", "hello", false)
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ack.MessageID != "m123" {
		t.Fatalf("MessageID = %q, want m123", ack.MessageID)
	}
}

func TestPostMessageRateLimited(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusTooManyRequests, `{"retry_after": 45.0}`)

	_, err := sess.PostMessage(context.Background(), "42", "hello", false)
	retry, ok := transport.IsRateLimited(err)
	if !ok {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if retry != 45*time.Second {
		t.Fatalf("RetryAfter = %v, want 45s", retry)
	}
}

func TestPostMessageAuthError(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusForbidden, "")

	_, err := sess.PostMessage(context.Background(), "42", "hello", false)
	if !transport.IsAuth(err) {
		t.Fatalf("error = %v, want AuthError", err)
	}
}

func TestQueryRateLimit(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusOK, `{"id":"m1"}`)

	got, err := sess.QueryRateLimit(context.Background(), "42")
	if err != nil {
		t.Fatalf("QueryRateLimit: %v", err)
	}
	if got != 30*time.Second {
		t.Fatalf("interval = %v, want 30s", got)
	}
}

func TestListTargets(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusOK, `{"id":"m1"}`)

	targets, err := sess.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(targets) != 1 || targets[0].ID != "g1" || targets[0].Kind != "server" {
		t.Fatalf("targets = %+v, want the single guild", targets)
	}
}

func TestJoinTarget(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusOK, `{"id":"m1"}`)

	// Full invite URLs reduce to their trailing code.
	tgt, err := sess.JoinTarget(context.Background(), "https://chat.example.com/invite/inv42")
	if err != nil {
		t.Fatalf("JoinTarget: %v", err)
	}
	if tgt.ID != "77" || tgt.Kind != "channel" {
		t.Fatalf("joined target = %+v, want channel 77", tgt)
	}

	if _, err := sess.JoinTarget(context.Background(), "expired"); err == nil {
		t.Fatal("expected error for an unknown invite")
	}
	if _, err := sess.JoinTarget(context.Background(), "  "); err == nil {
		t.Fatal("expected error for an empty invite")
	}
}

func TestSendTyping(t *testing.T) {
	t.Parallel()
	_, sess := newTestServer(t, http.StatusOK, `{"id":"m1"}`)
	if err := sess.SendTyping(context.Background(), "42"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
}

func TestRetryAfterHeaderBeatsBody(t *testing.T) {
	t.Parallel()
	resp := &http.Response{
		Header: http.Header{"Retry-After": []string{"2.5"}},
		Body:   http.NoBody,
	}
	if got := retryAfter(resp); got != 2500*time.Millisecond {
		t.Fatalf("retryAfter = %v, want 2.5s", got)
	}
}

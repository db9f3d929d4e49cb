package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/models"
)

func newTelegramServer(t *testing.T, handler http.HandlerFunc) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTelegramNotifier(config.TelegramConfig{
		BotToken: "TOKEN",
		ChatID:   "1234",
		APIURL:   srv.URL,
		Timeout:  time.Second,
	})
}

func TestTelegramNotifierSend(t *testing.T) {
	var payload map[string]interface{}
	notifier := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	require.NoError(t, notifier.Send(context.Background(), "<b>hello</b>"))
	assert.Equal(t, "1234", payload["chat_id"])
	assert.Equal(t, "<b>hello</b>", payload["text"])
	assert.Equal(t, "HTML", payload["parse_mode"])
	assert.Equal(t, true, payload["disable_web_page_preview"])
}

func TestTelegramNotifierAPIError(t *testing.T) {
	notifier := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})

	err := notifier.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierTestConnection(t *testing.T) {
	notifier := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/getMe", r.URL.Path)
		w.Write([]byte(`{"ok":true,"result":{"username":"smart_bot"}}`))
	})
	assert.NoError(t, notifier.TestConnection(context.Background()))

	unreachable := NewTelegramNotifier(config.TelegramConfig{BotToken: "SECRET", APIURL: "http://127.0.0.1:1"})
	err := unreachable.TestConnection(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestGmailReplierRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/messages/send") {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":429,"message":"User-rate limit exceeded"}}`))
			return
		}
		var msg map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.NotEmpty(t, msg["raw"])
		w.Write([]byte(`{"id":"sent-1"}`))
	}))
	defer srv.Close()

	replier, err := NewGmailReplier(
		config.GmailConfig{UserEmail: "me@example.com"},
		"SmartMailer",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	replier.backoff = func(int) time.Duration { return time.Millisecond }

	require.NoError(t, replier.SendReply(context.Background(), "alice@example.org", "Re: Hi", "<p>x</p>"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGmailReplierDoesNotRetryOtherErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Invalid to header"}}`))
	}))
	defer srv.Close()

	replier, err := NewGmailReplier(
		config.GmailConfig{UserEmail: "me@example.com"},
		"SmartMailer",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	replier.backoff = func(int) time.Duration { return time.Millisecond }

	assert.Error(t, replier.SendReply(context.Background(), "alice@example.org", "Re: Hi", "<p>x</p>"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type fakeReplier struct {
	err      error
	connErr  error
	to       string
	subject  string
	htmlBody string
}

func (f *fakeReplier) SendReply(_ context.Context, to, subject, htmlBody string) error {
	f.to, f.subject, f.htmlBody = to, subject, htmlBody
	return f.err
}

func (f *fakeReplier) TestConnection(context.Context) error { return f.connErr }

type fakeNotifier struct {
	err     error
	connErr error
	texts   []string
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeNotifier) TestConnection(context.Context) error { return f.connErr }

func TestSinkWrapsTransportErrors(t *testing.T) {
	replier := &fakeReplier{err: errors.New("smtp down")}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	sink := NewSink(replier, notifier)
	ctx := context.Background()

	err := sink.SendReply(ctx, "a@b.com", "Re: x", "<p/>")
	assert.ErrorIs(t, err, models.ErrTransportUnavailable)
	assert.Equal(t, "a@b.com", replier.to)

	err = sink.PushNotification(ctx, models.Notification{Sender: "boss@corp.com", Subject: "Review"})
	assert.ErrorIs(t, err, models.ErrTransportUnavailable)
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "boss@corp.com")
}

func TestSinkWithoutReplier(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := NewSink(nil, notifier)

	assert.ErrorIs(t, sink.SendReply(context.Background(), "a@b.com", "Re: x", ""), ErrReplyDisabled)
	assert.True(t, sink.TestConnectivity(context.Background()))
}

func TestSinkConnectivityAndTestMessage(t *testing.T) {
	replier := &fakeReplier{}
	notifier := &fakeNotifier{}
	sink := NewSink(replier, notifier)
	ctx := context.Background()

	assert.True(t, sink.TestConnectivity(ctx))
	require.NoError(t, sink.SendTestNotification(ctx))
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "Test SmartMailer")

	replier.connErr = errors.New("refused")
	assert.False(t, sink.TestConnectivity(ctx))

	notifier.connErr = errors.New("unauthorized")
	assert.ErrorIs(t, sink.SendTestNotification(ctx), models.ErrTransportUnavailable)
	assert.Len(t, notifier.texts, 1)
}

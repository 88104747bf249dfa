package notifier

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "gopkg.in/gomail.v2"
)

type flaky struct {
	failures int
	calls    int
}

func (f *flaky) Send(subject, body string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("sink down")
	}
	return nil
}

func TestRetryingEventuallySucceeds(t *testing.T) {
	sink := &flaky{failures: 2}
	r := Retrying{Sink: sink, Retries: 3}
	require.NoError(t, r.Send("s", "b"))
	assert.Equal(t, 3, sink.calls)
}

func TestRetryingGivesUpAfterBudget(t *testing.T) {
	sink := &flaky{failures: 10}
	r := Retrying{Sink: sink, Retries: 3}
	assert.Error(t, r.Send("s", "b"))
	assert.Equal(t, 3, sink.calls)
}

func TestMultiTriesAllSinks(t *testing.T) {
	a := &flaky{failures: 1}
	b := &flaky{}
	err := Multi{a, b}.Send("s", "b")
	assert.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls, "later sinks still run after an earlier failure")
}

func TestTelegramSendsMarkdown(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = map[string]string{
			"path":       r.URL.Path,
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		}
	}))
	defer srv.Close()

	n := &TelegramNotifier{Token: "tok", ChatID: "42", BaseURL: srv.URL}
	require.NoError(t, n.Send("Trade Closed", "RELIANCE +500"))

	assert.Equal(t, "/bottok/sendMessage", got["path"])
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Trade Closed*\nRELIANCE +500", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegramNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &TelegramNotifier{Token: "tok", ChatID: "42", BaseURL: srv.URL}
	assert.Error(t, n.Send("s", "b"))
}

func TestEmailBuildsMessage(t *testing.T) {
	n, err := NewEmailNotifier("smtp.example.com", "587", "bot@example.com", "secret", "trader@example.com")
	require.NoError(t, err)

	var captured *gomail.Message
	n.send = func(m *gomail.Message) error {
		captured = m
		return nil
	}
	require.NoError(t, n.Send("End of Day", "pnl +1200"))
	require.NotNil(t, captured)
	assert.Equal(t, []string{"End of Day"}, captured.GetHeader("Subject"))
	assert.Equal(t, []string{"trader@example.com"}, captured.GetHeader("To"))
}

func TestEmailRejectsBadPort(t *testing.T) {
	_, err := NewEmailNotifier("h", "not-a-port", "u", "p", "r")
	assert.Error(t, err)
}

func TestNotifySwallowsFailures(t *testing.T) {
	assert.NotPanics(t, func() {
		Notify(&flaky{failures: 10}, "s", "b")
		Notify(nil, "s", "b")
	})
}

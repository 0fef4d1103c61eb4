package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSlackNotifier_SendAlert(t *testing.T) {
	var capturedPayload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/hooks/incoming-webhook", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&capturedPayload)
		assert.NoError(t, err)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL + "/services/hooks/incoming-webhook")
	err := notifier.SendAlert(context.Background(), "org-1/CERT-001", SeverityCritical, "audit chain broken at entries [4]")

	assert.NoError(t, err)
	assert.Equal(t, "docauth alert: scope org-1/CERT-001", capturedPayload.Text)
	if assert.NotEmpty(t, capturedPayload.Attachments) {
		att := capturedPayload.Attachments[0]
		assert.Equal(t, "#ff0000", att.Color)
		assert.Equal(t, "[critical] Alert", att.Title)
		assert.Equal(t, "audit chain broken at entries [4]", att.Text)
	}
}

func TestSlackNotifier_SendAlert_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.SendAlert(context.Background(), "scope", SeverityInfo, "msg")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "slack api returned status: 500")
}

func TestLogNotifier_LevelBySeverity(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	_ = n.SendAlert(context.Background(), "o/d", SeverityCritical, "broken")
	_ = n.SendAlert(context.Background(), "o/d", SeverityWarning, "gap")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zap.ErrorLevel, entries[0].Level)
		assert.Equal(t, zap.WarnLevel, entries[1].Level)
		assert.Equal(t, "o/d", entries[0].ContextMap()["scope"])
	}
}

type failing struct{ err error }

func (f failing) SendAlert(context.Context, string, string, string) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{NewLogNotifier(zap.NewNop()), failing{boom}}.SendAlert(context.Background(), "s", SeverityInfo, "m")
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, Multi{NewLogNotifier(zap.NewNop())}.SendAlert(context.Background(), "s", SeverityInfo, "m"))
}

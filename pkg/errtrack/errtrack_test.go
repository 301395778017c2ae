package errtrack

import (
	"bytes"
	"errors"
	"testing"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/searchindex/pkg/config"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	Multi{Log{}, r}.Notify(errors.New("boom"), Extra{"action_type": "index", "status": 500})

	require.Equal(t, 1, r.Len())
	n := r.Notifications()[0]
	assert.EqualError(t, n.Err, "boom")
	assert.Equal(t, "index", n.Extra["action_type"])
}

func TestMailer(t *testing.T) {
	m := NewMailer(config.SMTPConfig{
		Host: "localhost",
		Port: 25,
		From: "search@example.com",
		To:   []string{"ops@example.com"},
	})

	var sent *mail.Message
	m.send = func(msg *mail.Message) error {
		sent = msg
		return nil
	}

	m.Notify(errors.New("failed job\nwith detail"), Extra{"job_id": "abc", "args": "x"})

	require.NotNil(t, sent)
	assert.Equal(t, []string{"[searchindex] exception failed job"}, sent.GetHeader("Subject"))
	assert.Equal(t, []string{"ops@example.com"}, sent.GetHeader("To"))

	var buf bytes.Buffer
	_, err := sent.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "job_id: abc")
}

func TestMailerSendFailure(t *testing.T) {
	m := NewMailer(config.SMTPConfig{Host: "localhost", From: "a@example.com", To: []string{"b@example.com"}})
	m.send = func(*mail.Message) error { return errors.New("dial failed") }

	assert.NotPanics(t, func() {
		m.Notify(errors.New("boom"), nil)
	})
}

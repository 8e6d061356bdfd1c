package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/logging"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
	gate chan struct{}
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

func TestWelcomeEmail(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewNotifier(mailer, time.Second, logging.Discard())

	n.Welcome(Recipient{Name: "Ana Lima", Email: "ana@school.test"}, "staff", "Xy7pQ2")
	require.NoError(t, n.Wait(context.Background()))

	sent := mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@school.test", sent[0].To)
	assert.Contains(t, sent[0].HTML, "Xy7pQ2")
	assert.Contains(t, sent[0].HTML, "staff")
	assert.Contains(t, sent[0].Text, "Xy7pQ2")
}

func TestTemplatesEscapeNames(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewNotifier(mailer, time.Second, logging.Discard())

	n.PasswordReset(Recipient{Name: "<script>", Email: "x@school.test"}, "pw")
	require.NoError(t, n.Wait(context.Background()))
	assert.NotContains(t, mailer.messages()[0].HTML, "<script>")
}

func TestSendDoesNotBlockCaller(t *testing.T) {
	mailer := &recordingMailer{gate: make(chan struct{})}
	n := NewNotifier(mailer, time.Second, logging.Discard())

	n.PasswordChanged(Recipient{Name: "Ana", Email: "ana@school.test"}, time.Now())
	assert.Empty(t, mailer.messages())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Wait(ctx), context.DeadlineExceeded)

	close(mailer.gate)
	require.NoError(t, n.Wait(context.Background()))
	assert.Len(t, mailer.messages(), 1)
}

func TestFailedSendIsSwallowed(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	n := NewNotifier(mailer, time.Second, logging.Discard())

	n.Send(Message{To: "a@school.test", Subject: "hi", Text: "hi"})
	require.NoError(t, n.Wait(context.Background()))
	assert.Len(t, mailer.messages(), 1)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, NewLogMailer(logging.Discard()).Send(context.Background(), Message{To: "a@b.c"}))
}

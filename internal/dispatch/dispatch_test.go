package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenclass/inviteledger/pkg/mail"
)

type stubSender struct {
	channel string
	got     []Delivery
	err     error
}

func (s *stubSender) Channel() string { return s.channel }

func (s *stubSender) Deliver(_ context.Context, delivery Delivery) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, delivery)
	return nil
}

func TestDispatcherRoutesByChannel(t *testing.T) {
	email := &stubSender{channel: "email"}
	sms := &stubSender{channel: "sms"}
	dispatcher := NewDispatcher(email, sms)

	err := dispatcher.Deliver(context.Background(), Delivery{
		UserID:  "user-1",
		Channel: "sms",
		Title:   "hello",
	})
	require.NoError(t, err)
	require.Empty(t, email.got)
	require.Len(t, sms.got, 1)
}

func TestDispatcherUnknownChannel(t *testing.T) {
	dispatcher := NewDispatcher(&stubSender{channel: "email"})

	err := dispatcher.Deliver(context.Background(), Delivery{Channel: "push"})
	require.Error(t, err)

	err = dispatcher.Deliver(context.Background(), Delivery{})
	require.Error(t, err)
}

func TestDispatcherPropagatesSenderError(t *testing.T) {
	boom := errors.New("provider down")
	dispatcher := NewDispatcher(&stubSender{channel: "email", err: boom})

	err := dispatcher.Deliver(context.Background(), Delivery{Channel: "email"})
	require.ErrorIs(t, err, boom)
}

type stubMailer struct {
	sent []mail.Message
	err  error
}

func (m *stubMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestEmailSenderDeliversToResolvedAddress(t *testing.T) {
	mailer := &stubMailer{}
	sender, err := NewEmailSender(mailer, "rewards@example.com", func(_ context.Context, userID string) (string, error) {
		return userID + "@example.com", nil
	})
	require.NoError(t, err)

	err = sender.Deliver(context.Background(), Delivery{
		UserID:  "user-1",
		Channel: "email",
		Title:   "Credits added",
		Content: "You earned 50 credits",
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"user-1@example.com"}, mailer.sent[0].To)
	require.Equal(t, "Credits added", mailer.sent[0].Subject)
}

func TestEmailSenderTreatsDisabledSMTPAsDelivered(t *testing.T) {
	mailer := &stubMailer{err: mail.ErrSMTPDisabled}
	sender, err := NewEmailSender(mailer, "rewards@example.com", func(context.Context, string) (string, error) {
		return "user@example.com", nil
	})
	require.NoError(t, err)

	err = sender.Deliver(context.Background(), Delivery{UserID: "user-1", Channel: "email"})
	require.NoError(t, err)
}

func TestEmailSenderFailsWithoutAddress(t *testing.T) {
	sender, err := NewEmailSender(&stubMailer{}, "rewards@example.com", func(context.Context, string) (string, error) {
		return "", nil
	})
	require.NoError(t, err)

	err = sender.Deliver(context.Background(), Delivery{UserID: "user-1", Channel: "email"})
	require.Error(t, err)
}

func TestLogSenderNeverFails(t *testing.T) {
	sender := NewLogSender("sms")
	require.Equal(t, "sms", sender.Channel())
	require.NoError(t, sender.Deliver(context.Background(), Delivery{UserID: "user-1"}))
}

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/mail"
)

// AddressResolver maps a user id to the address a channel delivers to, such
// as an email address or phone number.
type AddressResolver func(ctx context.Context, userID string) (string, error)

// InAppSender is a no-op sender: in-app messages live in the database and are
// read through the API, so persistence alone counts as delivery.
type InAppSender struct{}

func (InAppSender) Channel() string { return "in_app" }

func (InAppSender) Deliver(context.Context, Delivery) error { return nil }

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	mailer  mail.Mailer
	from    string
	resolve AddressResolver
}

// NewEmailSender wires an SMTP mailer behind the email channel.
func NewEmailSender(mailer mail.Mailer, from string, resolve AddressResolver) (*EmailSender, error) {
	if mailer == nil {
		return nil, errors.New("dispatch: mailer is required")
	}
	if resolve == nil {
		return nil, errors.New("dispatch: address resolver is required")
	}

	return &EmailSender{mailer: mailer, from: from, resolve: resolve}, nil
}

func (s *EmailSender) Channel() string { return "email" }

func (s *EmailSender) Deliver(ctx context.Context, delivery Delivery) error {
	address, err := s.resolve(ctx, delivery.UserID)
	if err != nil {
		return fmt.Errorf("dispatch: resolve email address: %w", err)
	}
	if address == "" {
		return fmt.Errorf("dispatch: no email address for user %s", delivery.UserID)
	}

	err = s.mailer.Send(ctx, mail.Message{
		From:    s.from,
		To:      []string{address},
		Subject: delivery.Title,
		Body:    delivery.Content,
	})
	if errors.Is(err, mail.ErrSMTPDisabled) {
		// Delivery disabled by configuration; treat as sent so the
		// message does not loop through retries forever.
		return nil
	}
	return err
}

// LogSender records deliveries without sending them anywhere. It stands in
// for channels whose provider integration is not configured, such as sms and
// push.
type LogSender struct {
	channel string
	log     *zap.Logger
}

// NewLogSender builds a logging stand-in for the named channel.
func NewLogSender(channel string) *LogSender {
	return &LogSender{
		channel: channel,
		log:     logger.WithModule("dispatch"),
	}
}

func (s *LogSender) Channel() string { return s.channel }

func (s *LogSender) Deliver(_ context.Context, delivery Delivery) error {
	s.log.Info("delivery logged",
		zap.String("channel", s.channel),
		zap.String("user_id", delivery.UserID),
		zap.String("title", delivery.Title),
	)
	return nil
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lumenclass/inviteledger/pkg/logger"
)

// Delivery is one outbound notification handed to a channel sender.
type Delivery struct {
	UserID   string
	Channel  string
	Title    string
	Content  string
	Metadata map[string]any
}

// Sender delivers messages over a single channel.
type Sender interface {
	Channel() string
	Deliver(ctx context.Context, delivery Delivery) error
}

// Dispatcher routes deliveries to the sender registered for their channel.
type Dispatcher struct {
	senders map[string]Sender
	log     *zap.Logger
}

// NewDispatcher registers the given senders. Later senders for the same
// channel replace earlier ones.
func NewDispatcher(senders ...Sender) *Dispatcher {
	registry := make(map[string]Sender, len(senders))
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		registry[strings.ToLower(sender.Channel())] = sender
	}

	return &Dispatcher{
		senders: registry,
		log:     logger.WithModule("dispatch"),
	}
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.senders))
	for name := range d.senders {
		names = append(names, name)
	}
	return names
}

// Deliver hands the delivery to the matching sender. An unregistered channel
// is an error so callers can keep the message pending for a later retry.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	channel := strings.ToLower(strings.TrimSpace(delivery.Channel))
	if channel == "" {
		return errors.New("dispatch: channel is required")
	}

	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("dispatch: no sender registered for channel %q", channel)
	}

	if err := sender.Deliver(ctx, delivery); err != nil {
		d.log.Warn("delivery failed",
			zap.String("channel", channel),
			zap.String("user_id", delivery.UserID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

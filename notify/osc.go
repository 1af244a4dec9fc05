// Package notify relays looper events to observers.
package notify

import (
	"context"

	charmlog "github.com/charmbracelet/log"
	"github.com/hypebeast/go-osc/osc"

	. "github.com/JeanRibes/looper/shared"
)

const addressPrefix = "/looper/"

// Sender is satisfied by *osc.Client.
type Sender interface {
	Send(packet osc.Packet) error
}

// OSC logs every event and, when a client is set, forwards it as an OSC message.
type OSC struct {
	client Sender
	logger *charmlog.Logger
}

func NewOSC(client Sender, logger *charmlog.Logger) *OSC {
	return &OSC{client: client, logger: logger.WithPrefix("notify")}
}

// Dial returns nil when host is empty: events are then only logged.
func Dial(host string, port int) Sender {
	if host == "" || port == 0 {
		return nil
	}
	return osc.NewClient(host, port)
}

// Encode maps an event to /looper/<event> int32 bool int32 [string].
func Encode(msg Message) *osc.Message {
	m := osc.NewMessage(addressPrefix+msg.Type.String(), int32(msg.Number), msg.Boolean, int32(msg.Number2))
	if msg.String != "" {
		m.Append(msg.String)
	}
	return m
}

// Run consumes events until the channel is closed or ctx is done.
func (o *OSC) Run(ctx context.Context, events <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			o.handle(msg)
		}
	}
}

func (o *OSC) handle(msg Message) {
	switch msg.Type {
	case Error, Overflow:
		o.logger.Warn(msg.Type.String(), "number", msg.Number, "detail", msg.String)
	default:
		o.logger.Debug(msg.Type.String(), "number", msg.Number, "on", msg.Boolean, "number2", msg.Number2)
	}
	if o.client == nil {
		return
	}
	if err := o.client.Send(Encode(msg)); err != nil {
		o.logger.Warn("osc send failed", "event", msg.Type.String(), "err", err)
	}
}

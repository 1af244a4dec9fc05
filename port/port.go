// Package port connects hardware MIDI ports to the dispatch bus.
package port

import (
	"errors"
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/JeanRibes/looper/bus"
	"github.com/JeanRibes/looper/protocol"
)

var ErrPortNotFound = errors.New("port not found")

// In delivers raw messages, one complete message per callback.
type In interface {
	Listen(onBytes func([]byte)) error
	Close() error
	String() string
}

type Out interface {
	Send([]byte) error
	Close() error
	String() string
}

// Adapter decodes what arrives on an input and publishes it on the bus, and
// writes raw bytes to an output.
type Adapter struct {
	in     In
	out    Out
	bus    *bus.Bus
	logger *charmlog.Logger
}

func NewAdapter(in In, out Out, b *bus.Bus, logger *charmlog.Logger) *Adapter {
	return &Adapter{
		in:     in,
		out:    out,
		bus:    b,
		logger: logger.WithPrefix("port"),
	}
}

// Start begins listening. Messages are decoded and dispatched on the input's goroutine.
func (a *Adapter) Start() error {
	a.logger.Info("connecting to", "input", a.in.String())
	a.logger.Info("connecting to", "output", a.out.String())
	if err := a.in.Listen(a.receive); err != nil {
		return fmt.Errorf("listen on %s: %w", a.in, err)
	}
	return nil
}

func (a *Adapter) receive(raw []byte) {
	if len(raw) == 0 {
		return
	}
	msg := protocol.Decode(raw)
	if cv, ok := msg.(protocol.ChannelVoice); ok && !cv.Complete() {
		a.logger.Warn("truncated message", "bytes", raw, "err", cv.Err())
	}
	a.bus.Dispatch(msg)
}

func (a *Adapter) Send(b []byte) error {
	return a.out.Send(b)
}

// CloseInput stops the incoming stream. The output stays usable until CloseOutput.
func (a *Adapter) CloseInput() error {
	return a.in.Close()
}

func (a *Adapter) CloseOutput() error {
	return a.out.Close()
}

package port

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Standard DIN MIDI rate.
const DefaultBaud = 31250

const serialReadTimeout = 100 * time.Millisecond

// SerialNames lists serial devices, for MIDI interfaces that show up as a tty.
func SerialNames() ([]string, error) {
	return serial.GetPortsList()
}

// Serial is a raw MIDI byte stream on a serial device, usable as both In and Out.
type Serial struct {
	port serial.Port
	name string

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

func OpenSerial(name string, baud int) (*Serial, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ports, name) {
		return nil, fmt.Errorf("%w: serial %q", ErrPortNotFound, name)
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(serialReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return &Serial{port: p, name: name, done: make(chan struct{})}, nil
}

// Listen reads in the background until Close and frames the stream.
func (s *Serial) Listen(onBytes func([]byte)) error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	framer := NewFramer(onBytes)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		readLoop(s.port, framer, s.done)
	}()
	return nil
}

func readLoop(r interface{ Read([]byte) (int, error) }, framer *Framer, done <-chan struct{}) {
	buf := make([]byte, 256)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			framer.Write(buf[:n])
		}
		if err != nil {
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return
			}
			select {
			case <-done:
				return
			case <-time.After(serialReadTimeout):
			}
		}
	}
}

func (s *Serial) Send(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write(b)
	return err
}

// Close may be called from both the input and the output side.
func (s *Serial) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}

func (s *Serial) String() string { return s.name }

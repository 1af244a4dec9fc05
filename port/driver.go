package port

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// InputNames lists the inputs of the registered gomidi driver.
func InputNames() []string {
	var names []string
	for _, p := range midi.GetInPorts() {
		names = append(names, p.String())
	}
	return names
}

func OutputNames() []string {
	var names []string
	for _, p := range midi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// DriverIn is an input port of the gomidi driver.
type DriverIn struct {
	port drivers.In
	mu   sync.Mutex
	stop func()
}

// OpenInput finds an input by exact name.
func OpenInput(name string) (*DriverIn, error) {
	for _, p := range midi.GetInPorts() {
		if p.String() == name {
			return &DriverIn{port: p}, nil
		}
	}
	return nil, fmt.Errorf("%w: input %q", ErrPortNotFound, name)
}

func OpenInputIndex(index int) (*DriverIn, error) {
	ports := midi.GetInPorts()
	if index < 0 || index >= len(ports) {
		return nil, fmt.Errorf("%w: input #%d (%d available)", ErrPortNotFound, index, len(ports))
	}
	return &DriverIn{port: ports[index]}, nil
}

// Listen does not filter SysEx nor clock messages: the looper needs both.
func (d *DriverIn) Listen(onBytes func([]byte)) error {
	stop, err := midi.ListenTo(d.port, func(msg midi.Message, absms int32) {
		onBytes(msg.Bytes())
	}, midi.UseSysEx(), midi.UseTimeCode())
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.stop = stop
	d.mu.Unlock()
	return nil
}

func (d *DriverIn) Close() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		stop()
	}
	if d.port.IsOpen() {
		return d.port.Close()
	}
	return nil
}

func (d *DriverIn) String() string { return d.port.String() }

// DriverOut is an output port of the gomidi driver.
type DriverOut struct {
	port drivers.Out
	send func(midi.Message) error
}

func OpenOutput(name string) (*DriverOut, error) {
	for _, p := range midi.GetOutPorts() {
		if p.String() == name {
			return newDriverOut(p)
		}
	}
	return nil, fmt.Errorf("%w: output %q", ErrPortNotFound, name)
}

func OpenOutputIndex(index int) (*DriverOut, error) {
	ports := midi.GetOutPorts()
	if index < 0 || index >= len(ports) {
		return nil, fmt.Errorf("%w: output #%d (%d available)", ErrPortNotFound, index, len(ports))
	}
	return newDriverOut(ports[index])
}

func newDriverOut(p drivers.Out) (*DriverOut, error) {
	send, err := midi.SendTo(p)
	if err != nil {
		return nil, err
	}
	return &DriverOut{port: p, send: send}, nil
}

func (d *DriverOut) Send(b []byte) error {
	return d.send(midi.Message(b))
}

func (d *DriverOut) Close() error {
	if d.port.IsOpen() {
		return d.port.Close()
	}
	return nil
}

func (d *DriverOut) String() string { return d.port.String() }

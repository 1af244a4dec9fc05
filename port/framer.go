package port

import "github.com/JeanRibes/looper/protocol"

// Framer cuts a raw MIDI byte stream (DIN or USB-serial) into messages.
// Real-time bytes are emitted at once, even in the middle of another message.
// Running status is not supported: data bytes with no status byte before them are dropped.
type Framer struct {
	emit    func([]byte)
	buf     []byte
	want    int
	sysex   bool
	Dropped int
}

func NewFramer(emit func([]byte)) *Framer {
	return &Framer{emit: emit, buf: make([]byte, 0, 64)}
}

// Write feeds bytes into the framer. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	for _, b := range p {
		f.feed(b)
	}
	return len(p), nil
}

func (f *Framer) feed(b byte) {
	switch {
	case b >= protocol.TimingClock:
		f.emit([]byte{b})
	case b == protocol.SysExStart:
		f.drop()
		f.buf = append(f.buf, b)
		f.sysex = true
	case b == protocol.SysExEnd && f.sysex:
		f.buf = append(f.buf, b)
		f.flush()
	case b&0x80 != 0:
		f.drop()
		f.buf = append(f.buf, b)
		f.want = protocol.MessageLen(b)
		if f.want <= 1 {
			f.flush()
		}
	case f.sysex:
		f.buf = append(f.buf, b)
	case len(f.buf) == 0:
		f.Dropped++
	default:
		f.buf = append(f.buf, b)
		if len(f.buf) == f.want {
			f.flush()
		}
	}
}

func (f *Framer) flush() {
	f.emit(append([]byte(nil), f.buf...))
	f.reset()
}

// drop discards an unfinished message.
func (f *Framer) drop() {
	if len(f.buf) > 0 {
		f.Dropped += len(f.buf)
	}
	f.reset()
}

func (f *Framer) reset() {
	f.buf = f.buf[:0]
	f.want = 0
	f.sysex = false
}

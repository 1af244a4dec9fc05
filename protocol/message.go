package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is reported when a message carries fewer data bytes than its kind requires.
var ErrMalformedMessage = errors.New("malformed message")

const NUM_CHANNELS = 16

// Kind identifies a message variant. It is also the topic used by the dispatch bus.
type Kind int

const (
	Undefined Kind = iota
	NoteOff
	NoteOn
	PolyAftertouch
	ControlChange
	ProgramChange
	ChannelAftertouch
	PitchBend
	SysEx
	SysCommon
	SysRealTime

	// topics that group several kinds
	AnyChannelVoice
	AnyMessage
)

var kindNames = [...]string{
	Undefined:         "undefined",
	NoteOff:           "noteoff",
	NoteOn:            "noteon",
	PolyAftertouch:    "poly aftertouch",
	ControlChange:     "cc",
	ProgramChange:     "program",
	ChannelAftertouch: "channel aftertouch",
	PitchBend:         "pitch",
	SysEx:             "sysex",
	SysCommon:         "sys common",
	SysRealTime:       "sys real time",
	AnyChannelVoice:   "channel voice message",
	AnyMessage:        "message",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsChannelVoice reports whether k is one of the seven channel-voice kinds.
func (k Kind) IsChannelVoice() bool {
	return k >= NoteOff && k <= PitchBend
}

// DataLen is the number of data bytes a channel-voice kind carries on the wire.
func (k Kind) DataLen() int {
	switch k {
	case ProgramChange, ChannelAftertouch:
		return 1
	case NoteOff, NoteOn, PolyAftertouch, ControlChange, PitchBend:
		return 2
	}
	return 0
}

// Message is the closed set of decoded messages: ChannelVoice, UndefinedVoice,
// System and UndefinedSystem.
type Message interface {
	Kind() Kind
	Bytes() []byte
	isMessage()
}

// ChannelVoice is a note, controller, program, aftertouch or pitch bend message.
// Values are immutable: WithChannel returns a copy.
type ChannelVoice struct {
	kind    Kind
	channel uint8
	data    [2]uint8
	n       uint8 // data bytes present
}

// NewChannelVoice builds a complete channel-voice message. Extra data is ignored.
func NewChannelVoice(kind Kind, channel uint8, data ...uint8) ChannelVoice {
	m := ChannelVoice{kind: kind, channel: channel & 0xF}
	for i := 0; i < len(data) && i < kind.DataLen(); i++ {
		m.data[i] = data[i] & 0x7F
		m.n++
	}
	return m
}

func (m ChannelVoice) isMessage()     {}
func (m ChannelVoice) Kind() Kind     { return m.kind }
func (m ChannelVoice) Channel() uint8 { return m.channel }

// Data1 returns the first data byte; ok is false when the wire message was truncated.
func (m ChannelVoice) Data1() (v uint8, ok bool) {
	return m.data[0], m.n >= 1
}

// Data2 returns the second data byte for two-byte kinds.
func (m ChannelVoice) Data2() (v uint8, ok bool) {
	return m.data[1], m.n >= 2 && m.kind.DataLen() == 2
}

// Complete reports whether every data byte the kind requires was present.
func (m ChannelVoice) Complete() bool {
	return int(m.n) >= m.kind.DataLen()
}

// Err wraps ErrMalformedMessage when the message was truncated.
func (m ChannelVoice) Err() error {
	if m.Complete() {
		return nil
	}
	return fmt.Errorf("%w: %s wants %d data bytes, got %d", ErrMalformedMessage, m.kind, m.kind.DataLen(), m.n)
}

func (m ChannelVoice) Status() uint8 {
	return uint8(0x80|(int(m.kind-NoteOff)<<4)) | m.channel
}

// Bytes reconstructs the wire form: status byte followed by the data bytes that were present.
func (m ChannelVoice) Bytes() []byte {
	b := make([]byte, 1, 3)
	b[0] = m.Status()
	return append(b, m.data[:m.n]...)
}

func (m ChannelVoice) WithChannel(channel uint8) ChannelVoice {
	m.channel = channel & 0xF
	return m
}

// Note returns the key of a note or poly aftertouch message.
func (m ChannelVoice) Note() (uint8, bool) {
	switch m.kind {
	case NoteOn, NoteOff, PolyAftertouch:
		return m.Data1()
	}
	return 0, false
}

// IsNoteStart is a note-on with a non-zero velocity.
func (m ChannelVoice) IsNoteStart() bool {
	vel, ok := m.Data2()
	return m.kind == NoteOn && ok && vel > 0
}

// IsNoteEnd is a note-off, or a note-on with velocity 0 as Yamaha keyboards send it.
func (m ChannelVoice) IsNoteEnd() bool {
	if m.kind == NoteOff {
		return true
	}
	vel, ok := m.Data2()
	return m.kind == NoteOn && ok && vel == 0
}

func (m ChannelVoice) String() string {
	return fmt.Sprintf("%s ch%d % X", m.kind, m.channel, m.data[:m.n])
}

// UndefinedVoice is a byte below 0xF0 that does not name a channel-voice kind.
type UndefinedVoice struct {
	raw []byte
}

func (m UndefinedVoice) isMessage()    {}
func (m UndefinedVoice) Kind() Kind    { return Undefined }
func (m UndefinedVoice) Bytes() []byte { return clone(m.raw) }

// System is a SysEx, system common or real-time message kept as opaque bytes.
type System struct {
	kind Kind
	raw  []byte
}

func (m System) isMessage()    {}
func (m System) Kind() Kind    { return m.kind }
func (m System) Bytes() []byte { return clone(m.raw) }

// Type is the status byte.
func (m System) Type() uint8 { return m.raw[0] }

func (m System) String() string {
	return fmt.Sprintf("%s % X", m.kind, m.raw)
}

// UndefinedSystem is a system status byte that no table classifies (F4, F5, F9, FD).
type UndefinedSystem struct {
	raw []byte
}

func (m UndefinedSystem) isMessage()    {}
func (m UndefinedSystem) Kind() Kind    { return Undefined }
func (m UndefinedSystem) Bytes() []byte { return clone(m.raw) }

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

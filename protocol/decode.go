package protocol

// System status bytes.
const (
	SysExStart    = 0xF0
	TimeCodeQF    = 0xF1
	SongPosition  = 0xF2
	SongSelect    = 0xF3
	TuneRequest   = 0xF6
	SysExEnd      = 0xF7
	TimingClock   = 0xF8
	Start         = 0xFA
	Continue      = 0xFB
	Stop          = 0xFC
	ActiveSensing = 0xFE
	SystemReset   = 0xFF
)

// Decode classifies raw bytes by their status byte. It never fails: truncated
// channel-voice messages keep their missing data unset (see ChannelVoice.Complete)
// and unknown status bytes become the Undefined variants with the bytes preserved.
// Running status is not handled, every message must start with its status byte.
func Decode(raw []byte) Message {
	if len(raw) == 0 {
		return UndefinedVoice{}
	}
	status := raw[0]
	if status >= 0xF0 {
		return System{kind: systemKind(status), raw: clone(raw)}.orUndefined()
	}
	if status < 0x80 {
		return UndefinedVoice{raw: clone(raw)}
	}
	kind := NoteOff + Kind((status>>4)&0x7)
	m := ChannelVoice{kind: kind, channel: status & 0xF}
	for i := 0; i < kind.DataLen() && i+1 < len(raw); i++ {
		m.data[i] = raw[i+1]
		m.n++
	}
	return m
}

func (m System) orUndefined() Message {
	if m.kind == Undefined {
		return UndefinedSystem{raw: m.raw}
	}
	return m
}

func systemKind(status uint8) Kind {
	switch status {
	case SysExStart:
		return SysEx
	case TimeCodeQF, SongPosition, SongSelect, TuneRequest, SysExEnd:
		return SysCommon
	case TimingClock, Start, Continue, Stop, ActiveSensing, SystemReset:
		return SysRealTime
	}
	return Undefined
}

// MessageLen is the full wire length for a status byte, or 0 when the length is
// open-ended (SysEx) or unknown.
func MessageLen(status uint8) int {
	switch {
	case status < 0x80:
		return 0
	case status < 0xF0:
		return 1 + (NoteOff + Kind((status>>4)&0x7)).DataLen()
	}
	switch status {
	case TimeCodeQF, SongSelect:
		return 2
	case SongPosition:
		return 3
	case SysExStart:
		return 0
	}
	return 1
}

package protocol

import "bytes"

// Panel buttons of Yamaha arranger keyboards (Tyros/PSR), as sent on their SysEx output.
var (
	VocalHarmonyOn  = []byte{0xF0, 0x43, 0x10, 0x4C, 0x04, 0x00, 0x0C, 0x40, 0xF7}
	VocalHarmonyOff = []byte{0xF0, 0x43, 0x10, 0x4C, 0x04, 0x00, 0x0C, 0x7F, 0xF7}
	EffectOn        = []byte{0xF0, 0x43, 0x10, 0x4C, 0x03, 0x05, 0x0C, 0x40, 0xF7}
	EffectOff       = []byte{0xF0, 0x43, 0x10, 0x4C, 0x03, 0x05, 0x0C, 0x7F, 0xF7}

	tempoHeader = []byte{0xF0, 0x43, 0x7E, 0x01}
)

type Button int

const (
	NoButton Button = iota
	HarmonyOnButton
	HarmonyOffButton
	EffectOnButton
	EffectOffButton
)

func (b Button) String() string {
	switch b {
	case HarmonyOnButton:
		return "vocal harmony on"
	case HarmonyOffButton:
		return "vocal harmony off"
	case EffectOnButton:
		return "effect on"
	case EffectOffButton:
		return "effect off"
	}
	return "none"
}

// PanelButton matches a SysEx message against the known panel buttons.
func PanelButton(m System) Button {
	switch {
	case bytes.Equal(m.raw, VocalHarmonyOn):
		return HarmonyOnButton
	case bytes.Equal(m.raw, VocalHarmonyOff):
		return HarmonyOffButton
	case bytes.Equal(m.raw, EffectOn):
		return EffectOnButton
	case bytes.Equal(m.raw, EffectOff):
		return EffectOffButton
	}
	return NoButton
}

// Tempo decodes the tempo SysEx (F0 43 7E 01 t0 t1 t2 t3 ...). The four bytes hold
// microseconds per quarter note, 7 bits each, most significant first.
func Tempo(m System) (bpm int, ok bool) {
	if m.kind != SysEx || len(m.raw) < len(tempoHeader)+4 || !bytes.HasPrefix(m.raw, tempoHeader) {
		return 0, false
	}
	return TempoToBPM(m.raw[4:8])
}

// TempoToBPM converts four packed 7-bit bytes into beats per minute, rounded down.
func TempoToBPM(b []byte) (int, bool) {
	if len(b) < 4 {
		return 0, false
	}
	v := int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
	if v == 0 {
		return 0, false
	}
	return 60_000_000 / v, true
}

// TempoSysEx builds the tempo message for a microseconds-per-quarter value.
func TempoSysEx(usPerQuarter int) []byte {
	b := append([]byte(nil), tempoHeader...)
	return append(b,
		byte(usPerQuarter>>21)&0x7F,
		byte(usPerQuarter>>14)&0x7F,
		byte(usPerQuarter>>7)&0x7F,
		byte(usPerQuarter)&0x7F,
		SysExEnd,
	)
}

package looper

import (
	"encoding/hex"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ItemDump struct {
	OffsetMs int64  `json:"offset_ms"`
	Kind     string `json:"kind"`
	Bytes    string `json:"bytes"`
}

type SequenceDump struct {
	Channel int        `json:"channel"`
	Start   time.Time  `json:"start"`
	Items   []ItemDump `json:"items"`
}

// SessionDump is a readable picture of a session, written when the looper exits.
type SessionDump struct {
	Measures         int            `json:"measures_per_sequence"`
	Numerator        int            `json:"numerator"`
	Denominator      int            `json:"denominator"`
	TicksPerSequence int            `json:"ticks_per_sequence"`
	Tempo            int            `json:"tempo_bpm"`
	Active           int            `json:"active_channel"`
	Recording        bool           `json:"recording"`
	Sequences        []SequenceDump `json:"sequences"`
	Pending          []pendingNote  `json:"pending_note_offs"`
}

func (e *Engine) Dump() SessionDump {
	e.Lock()
	defer e.Unlock()
	d := SessionDump{
		Measures:         e.session.MeasuresPerSequence,
		Numerator:        e.session.TimeSignature.Numerator,
		Denominator:      e.session.TimeSignature.Denominator,
		TicksPerSequence: e.ticksPerSequence,
		Tempo:            e.tempo,
		Active:           e.active,
		Recording:        e.recording,
		Pending:          e.ledger.snapshot(),
	}
	for _, seq := range e.sequences {
		if seq == nil {
			continue
		}
		sd := SequenceDump{Channel: seq.Channel, Start: seq.Start, Items: make([]ItemDump, 0, len(seq.Items))}
		for _, it := range seq.Items {
			sd.Items = append(sd.Items, ItemDump{
				OffsetMs: it.Offset.Milliseconds(),
				Kind:     it.Message.Kind().String(),
				Bytes:    hex.EncodeToString(it.Message.Bytes()),
			})
		}
		d.Sequences = append(d.Sequences, sd)
	}
	return d
}

func WriteDump(w io.Writer, d SessionDump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func (e *Engine) SaveDump(filepath string) error {
	f, err := os.Create(filepath)
	if err != nil {
		return err
	}
	if err := WriteDump(f, e.Dump()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package shared

import "fmt"

// Event is a notification the looper sends to whoever observes it (OSC, logs).
type Event int

const (
	RecordStart Event = iota
	RecordStop
	SequenceCut
	ChannelAdvance
	SequenceVoid
	Harmony
	Effect
	Tempo
	NoteOffFixed
	Overflow
	Error
)

var eventNames = [...]string{
	RecordStart:    "record/start",
	RecordStop:     "record/stop",
	SequenceCut:    "cut",
	ChannelAdvance: "channel",
	SequenceVoid:   "void",
	Harmony:        "harmony",
	Effect:         "effect",
	Tempo:          "tempo",
	NoteOffFixed:   "noteoff",
	Overflow:       "overflow",
	Error:          "error",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event/%d", int(e))
	}
	return eventNames[e]
}

type Message struct {
	Type    Event
	Number  int
	Boolean bool
	String  string
	Number2 int
}

// Notify sends without blocking; a full or nil sink drops the message.
func Notify(sink chan<- Message, msg Message) bool {
	if sink == nil {
		return false
	}
	select {
	case sink <- msg:
		return true
	default:
		return false
	}
}

// ChannelName labels a song channel the way the keyboard display counts them.
func ChannelName(channel int) string {
	return fmt.Sprintf("CH%02d", channel+1)
}

package looper

import (
	"slices"
	"time"

	"github.com/JeanRibes/looper/protocol"
)

const STATE_PREALLOCATION = 128

// LoopItem is one recorded message and its distance from the start of its sequence.
type LoopItem struct {
	Message protocol.ChannelVoice
	Offset  time.Duration
}

// Sequence is one loop layer. Items are kept in time order.
type Sequence struct {
	Channel int
	Start   time.Time
	Items   []LoopItem
}

func newSequence(channel int, start time.Time) *Sequence {
	return &Sequence{
		Channel: channel,
		Start:   start,
		Items:   make([]LoopItem, 0, STATE_PREALLOCATION),
	}
}

// offsetAt is the elapsed time since start in whole milliseconds, never negative.
func offsetAt(start, now time.Time) time.Duration {
	d := now.Sub(start).Truncate(time.Millisecond)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Sequence) Append(item LoopItem) {
	s.Items = append(s.Items, item)
}

// Insert places item before the first item with a later offset and returns its index.
// When no later item exists it goes to the end.
func (s *Sequence) Insert(item LoopItem) int {
	i := slices.IndexFunc(s.Items, func(it LoopItem) bool { return it.Offset > item.Offset })
	if i < 0 {
		s.Items = append(s.Items, item)
		return len(s.Items) - 1
	}
	s.Items = slices.Insert(s.Items, i, item)
	return i
}

// HasNotes reports whether the sequence holds at least one note-on or note-off.
func (s *Sequence) HasNotes() bool {
	return slices.ContainsFunc(s.Items, func(it LoopItem) bool {
		k := it.Message.Kind()
		return k == protocol.NoteOn || k == protocol.NoteOff
	})
}

func (s *Sequence) Clear(start time.Time) {
	s.Items = s.Items[:0]
	s.Start = start
}

// Snapshot copies the sequence so a playback pass never sees later edits.
func (s *Sequence) Snapshot() Sequence {
	return Sequence{
		Channel: s.Channel,
		Start:   s.Start,
		Items:   slices.Clone(s.Items),
	}
}

package looper

import "maps"

type pendingNote struct {
	Note    uint8 `json:"note"`
	Channel int   `json:"channel"`
}

// Ledger is the multiset of notes started in a finished sequence whose note-off
// has not been seen yet, each tagged with the channel that recorded the note-on.
type Ledger struct {
	entries []pendingNote
}

func (l *Ledger) Add(note uint8, channel int) {
	l.entries = append(l.entries, pendingNote{Note: note, Channel: channel})
}

func (l *Ledger) Has(note uint8) bool {
	return l.last(note) >= 0
}

// Take removes the most recently added entry for note and returns its channel.
func (l *Ledger) Take(note uint8) (channel int, ok bool) {
	i := l.last(note)
	if i < 0 {
		return 0, false
	}
	channel = l.entries[i].Channel
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return channel, true
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

// Absorb adds the notes left sounding at the end of seq: every note-on that no
// later note-off inside seq matched and whose key is still down according to held.
// Releases that were not recorded still count through held.
func (l *Ledger) Absorb(seq *Sequence, held map[uint8]int) {
	var open []uint8
	for _, it := range seq.Items {
		note, ok := it.Message.Note()
		if !ok {
			continue
		}
		switch {
		case it.Message.IsNoteStart():
			open = append(open, note)
		case it.Message.IsNoteEnd():
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == note {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}
	}
	down := maps.Clone(held)
	for _, note := range open {
		if down[note] > 0 {
			down[note]--
			l.Add(note, seq.Channel)
		}
	}
}

func (l *Ledger) snapshot() []pendingNote {
	return append([]pendingNote(nil), l.entries...)
}

func (l *Ledger) last(note uint8) int {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Note == note {
			return i
		}
	}
	return -1
}

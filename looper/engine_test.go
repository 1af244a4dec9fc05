package looper

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/JeanRibes/looper/bus"
	"github.com/JeanRibes/looper/config"
	"github.com/JeanRibes/looper/protocol"
	"github.com/JeanRibes/looper/shared"
)

type fakePlayer struct {
	played []Sequence
}

func (p *fakePlayer) Play(s Sequence) { p.played = append(p.played, s) }

func (p *fakePlayer) channels() []int {
	var res []int
	for _, s := range p.played {
		res = append(res, s.Channel)
	}
	return res
}

type fakeOut struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (o *fakeOut) Send(b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, b)
	return o.err
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(ms int) { c.t = c.t.Add(time.Duration(ms) * time.Millisecond) }

type rig struct {
	*testing.T
	engine *Engine
	bus    *bus.Bus
	player *fakePlayer
	out    *fakeOut
	clock  *fakeClock
	events chan shared.Message
}

func session(measures, num, den int) config.Session {
	s := config.Default().Session
	s.MeasuresPerSequence = measures
	s.TimeSignature.Numerator = num
	s.TimeSignature.Denominator = den
	return s
}

func newRig(t *testing.T, s config.Session) *rig {
	r := &rig{
		T:      t,
		bus:    bus.New(charmlog.New(io.Discard)),
		player: &fakePlayer{},
		out:    &fakeOut{},
		clock:  &fakeClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)},
		events: make(chan shared.Message, 256),
	}
	r.engine = NewEngine(s, r.player, r.out,
		WithLogger(charmlog.New(io.Discard)),
		WithClock(r.clock.now),
		WithEvents(r.events),
	)
	r.engine.Attach(r.bus)
	return r
}

func (r *rig) send(raw []byte) {
	r.bus.Dispatch(protocol.Decode(raw))
}

func (r *rig) ticks(n int) {
	for i := 0; i < n; i++ {
		r.send([]byte{protocol.TimingClock})
	}
}

// begin presses the harmony button and starts the style, so every cut re-arms recording.
func (r *rig) begin() {
	r.send(protocol.VocalHarmonyOn)
	r.send([]byte{protocol.Start})
}

// loop records one note and runs the clock to the end of the sequence.
func (r *rig) loop(key uint8) {
	r.send(midi.NoteOn(0, key, 100))
	r.clock.advance(10)
	r.send(midi.NoteOn(0, key, 0))
	r.ticks(r.engine.TicksPerSequence())
}

func (r *rig) drain() []shared.Event {
	var res []shared.Event
	for {
		select {
		case m := <-r.events:
			res = append(res, m.Type)
		default:
			return res
		}
	}
}

func TestCutEveryTicksPerSequence(t *testing.T) {
	r := newRig(t, config.Default().Session)
	require.Equal(t, 384, r.engine.TicksPerSequence())

	r.begin()
	r.send(midi.NoteOn(0, 60, 100))
	r.ticks(383)
	assert.Equal(t, 0, r.engine.State().Active)
	assert.Equal(t, 383, r.engine.State().Ticks)

	r.ticks(1)
	st := r.engine.State()
	assert.Equal(t, 1, st.Active, "cut after exactly 384 ticks")
	assert.Equal(t, 0, st.Ticks)
	assert.Equal(t, []int{0}, r.player.channels())

	r.send(midi.NoteOn(0, 62, 100))
	r.ticks(384)
	assert.Equal(t, 2, r.engine.State().Active)
	assert.Equal(t, []int{0, 0, 1}, r.player.channels(), "lower channels first, then the finished one")
}

func TestClockIgnoredBeforeStart(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.ticks(500)
	st := r.engine.State()
	assert.False(t, st.Started)
	assert.Equal(t, 0, st.Ticks)
	assert.Empty(t, r.player.played)

	r.send(midi.NoteOn(0, 60, 100))
	_, ok := r.engine.Sequence(0)
	assert.False(t, ok, "nothing is recorded before the transport starts")
}

func TestVoidSequenceDoesNotAdvance(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.send(midi.ControlChange(0, 7, 100)) // recorded, but not a note
	r.ticks(96)

	st := r.engine.State()
	assert.Equal(t, 0, st.Active)
	seq, ok := r.engine.Sequence(0)
	require.True(t, ok)
	assert.Empty(t, seq.Items, "cleared")
	assert.Equal(t, r.clock.t, seq.Start, "restamped at the cut")
	assert.Empty(t, r.player.played)
	assert.Contains(t, r.drain(), shared.SequenceVoid)

	r.loop(60)
	assert.Equal(t, 1, r.engine.State().Active, "a sequence with notes advances by exactly one")

	r.ticks(96) // channel 1 stays empty
	assert.Equal(t, 1, r.engine.State().Active)
	assert.Equal(t, []int{0, 0}, r.player.channels(), "the void cut still replays lower channels")
}

func TestRecordingRemapsChannelAndOffsets(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.loop(60)
	r.loop(62)

	start := r.clock.t
	r.clock.advance(125)
	r.send(midi.NoteOn(0, 64, 90))
	r.clock.advance(75)
	r.send(midi.ControlChange(0, 64, 127))
	r.send(midi.NoteOn(3, 65, 90)) // other channel, ignored
	r.send([]byte{0x90, 66})       // truncated, ignored

	seq, ok := r.engine.Sequence(2)
	require.True(t, ok)
	require.Len(t, seq.Items, 2)
	assert.Equal(t, start, seq.Start)
	assert.Equal(t, []byte{0x92, 64, 90}, seq.Items[0].Message.Bytes())
	assert.Equal(t, 125*time.Millisecond, seq.Items[0].Offset)
	assert.Equal(t, []byte{0xB2, 64, 127}, seq.Items[1].Message.Bytes())
	assert.Equal(t, 200*time.Millisecond, seq.Items[1].Offset)
}

func TestHarmonyButton(t *testing.T) {
	r := newRig(t, session(1, 4, 4))

	r.send(protocol.VocalHarmonyOn)
	assert.False(t, r.engine.State().Recording, "first activation waits for the style start")
	assert.True(t, r.engine.State().Harmony)

	r.send([]byte{protocol.Start})
	assert.True(t, r.engine.State().Recording)

	r.send(protocol.VocalHarmonyOff)
	assert.False(t, r.engine.State().Recording)
	r.send(midi.NoteOn(0, 60, 100))
	seq, _ := r.engine.Sequence(0)
	assert.Empty(t, seq.Items, "not recorded while harmony is off")

	r.send(protocol.VocalHarmonyOn)
	assert.True(t, r.engine.State().Recording)
	r.send(midi.NoteOn(0, 60, 100))
	r.ticks(96)
	assert.True(t, r.engine.State().Recording, "harmony still on: next channel records right away")
	assert.Equal(t, 1, r.engine.State().Active)

	r.send(protocol.VocalHarmonyOff)
	r.send(midi.NoteOn(0, 61, 100))
	r.ticks(96)
	st := r.engine.State()
	assert.False(t, st.Recording)
	assert.Equal(t, 1, st.Active, "nothing was recorded on channel 1")

	r.send(protocol.EffectOn)
	assert.False(t, r.engine.State().Recording, "effect button only gets logged")
}

func TestCrossBoundaryNoteOff(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.clock.advance(100)
	r.send(midi.NoteOn(0, 60, 100)) // held across the cut
	r.clock.advance(200)
	r.send(midi.NoteOn(0, 62, 100))
	r.clock.advance(100)
	r.send(midi.NoteOn(0, 62, 0))
	r.clock.advance(1600)
	r.ticks(96)
	require.Equal(t, 1, r.engine.State().Active)
	assert.Equal(t, 1, r.engine.State().Pending)
	r.drain()

	r.clock.advance(50)
	r.send(midi.NoteOn(0, 60, 0))

	seq0, _ := r.engine.Sequence(0)
	assert.Equal(t, []int64{50, 100, 300, 400}, offsets(seq0))
	assert.Equal(t, []byte{0x90, 60, 0}, seq0.Items[0].Message.Bytes())
	seq1, _ := r.engine.Sequence(1)
	assert.Empty(t, seq1.Items, "the note-off does not land in the active sequence")
	assert.Equal(t, 0, r.engine.State().Pending, "removed from the ledger exactly once")
	assert.Equal(t, []shared.Event{shared.NoteOffFixed}, r.drain())

	// a second release of the same key is an ordinary message now
	r.clock.advance(10)
	r.send(midi.NoteOn(0, 60, 0))
	seq0, _ = r.engine.Sequence(0)
	assert.Len(t, seq0.Items, 4)
	seq1, _ = r.engine.Sequence(1)
	assert.Len(t, seq1.Items, 1)
}

func TestCrossBoundaryNoteOffWhileIdle(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.send(protocol.VocalHarmonyOn)
	r.send([]byte{protocol.Start})
	r.clock.advance(10)
	r.send(midi.NoteOn(0, 60, 100))
	r.clock.advance(20)
	r.send(midi.NoteOn(0, 61, 100))
	r.send(protocol.VocalHarmonyOff)
	r.ticks(96)
	require.False(t, r.engine.State().Recording)

	r.clock.advance(500)
	r.send(midi.NoteOff(0, 61))
	r.send(midi.NoteOff(0, 60))

	seq0, _ := r.engine.Sequence(0)
	assert.Equal(t, []int64{10, 30, 500, 500}, offsets(seq0), "appended after the last item, in arrival order")
	assert.Equal(t, 0, r.engine.State().Pending)
}

func TestReleaseWhileIdleIsNotPending(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.clock.advance(10)
	r.send(midi.NoteOn(0, 60, 100))
	r.send(protocol.VocalHarmonyOff)
	r.clock.advance(40)
	r.send(midi.NoteOn(0, 60, 0)) // not recorded, the key is up again
	r.ticks(96)
	require.Equal(t, 1, r.engine.State().Active)
	assert.Equal(t, 0, r.engine.State().Pending, "a released key never enters the ledger")

	r.send(protocol.VocalHarmonyOn)
	r.clock.advance(100)
	r.send(midi.NoteOn(0, 60, 100))
	r.clock.advance(100)
	r.send(midi.NoteOn(0, 60, 0))

	seq0, _ := r.engine.Sequence(0)
	assert.Equal(t, []int64{10}, offsets(seq0))
	seq1, _ := r.engine.Sequence(1)
	require.Len(t, seq1.Items, 2, "the release stays with its own note-on")
	assert.Equal(t, []byte{0x91, 60, 0}, seq1.Items[1].Message.Bytes())
}

func TestUnmatchedNoteOff(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.send([]byte{protocol.Start})
	r.engine.ledger.Add(61, 0) // bookkeeping gone wrong: nothing was recorded on channel 0

	err := r.engine.HandleVoice(protocol.Decode(midi.NoteOn(0, 61, 0)))
	assert.ErrorIs(t, err, ErrUnmatchedNoteOff)
	assert.Equal(t, 0, r.engine.State().Pending)
	assert.Contains(t, r.drain(), shared.Error)

	assert.NotPanics(t, func() { r.send(midi.NoteOn(0, 61, 100)) }, "processing continues")
	seq, _ := r.engine.Sequence(0)
	assert.Len(t, seq.Items, 1)
}

func TestPlaybackUsesSnapshots(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.send([]byte{protocol.Start})
	r.clock.advance(100)
	r.send(midi.NoteOn(0, 60, 100))
	r.ticks(96)
	require.Len(t, r.player.played, 1)

	r.clock.advance(20)
	r.send(midi.NoteOn(0, 60, 0))
	assert.Len(t, r.player.played[0].Items, 1, "a running playback pass keeps its copy")

	r.ticks(96)
	require.Len(t, r.player.played, 2)
	assert.Len(t, r.player.played[1].Items, 2, "the next pass sees the reconciled note-off")
}

func TestForwardControlChange(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.loop(60)
	r.loop(62)
	r.loop(64)
	require.Equal(t, 3, r.engine.State().Active)
	r.send(protocol.VocalHarmonyOff)

	r.out.sent = nil
	r.send(midi.ControlChange(0, 7, 90))
	require.Len(t, r.out.sent, 13, "channels 3..15")
	for i, b := range r.out.sent {
		assert.Equal(t, []byte{0xB0 | byte(3+i), 7, 90}, b)
	}

	r.out.sent = nil
	r.send(midi.ProgramChange(0, 12))
	require.Len(t, r.out.sent, 13)
	assert.Equal(t, []byte{0xC3, 12}, r.out.sent[0])
	assert.Equal(t, []byte{0xCF, 12}, r.out.sent[12])

	r.out.sent = nil
	r.send(midi.ControlChange(4, 7, 90))
	r.send(midi.NoteOn(0, 60, 90))
	assert.Empty(t, r.out.sent, "only control/program changes of the source channel")
}

func TestForwardReportsSendErrors(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.out.err = errors.New("port closed")
	err := r.engine.Forward(protocol.Decode(midi.ControlChange(0, 7, 90)))
	assert.Error(t, err)
	assert.Len(t, r.out.sent, 16, "every channel is still tried")
}

func TestSourceChannel(t *testing.T) {
	s := session(1, 4, 4)
	s.SourceChannel = 2
	r := newRig(t, s)
	r.send([]byte{protocol.Start})
	r.send(midi.NoteOn(0, 60, 100))
	r.send(midi.NoteOn(2, 61, 100))
	seq, _ := r.engine.Sequence(0)
	require.Len(t, seq.Items, 1)
	assert.Equal(t, []byte{0x90, 61, 100}, seq.Items[0].Message.Bytes())
}

func TestChannelOverflow(t *testing.T) {
	r := newRig(t, session(1, 1, 4))
	require.Equal(t, 24, r.engine.TicksPerSequence())
	r.send(protocol.VocalHarmonyOn)
	r.send([]byte{protocol.Start})
	for i := 0; i < NUM_CHANNELS; i++ {
		r.loop(uint8(60 + i))
	}
	st := r.engine.State()
	assert.Equal(t, NUM_CHANNELS, st.Active)
	assert.False(t, st.Recording, "recording stops when every channel holds a loop")
	assert.Contains(t, r.drain(), shared.Overflow)

	err := r.engine.HandleSysEx(protocol.Decode(protocol.VocalHarmonyOn))
	assert.ErrorIs(t, err, ErrChannelOverflow)
	assert.False(t, r.engine.State().Recording)

	r.player.played = nil
	r.send(midi.NoteOn(0, 90, 100))
	r.ticks(24)
	assert.Len(t, r.player.played, NUM_CHANNELS, "all 16 loops keep playing")

	r.out.sent = nil
	r.send(midi.ControlChange(0, 7, 1))
	assert.Empty(t, r.out.sent, "no channel left to forward to")
}

func TestTransportRestart(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.begin()
	r.loop(60)
	r.send(midi.NoteOn(0, 61, 100))
	r.ticks(50)

	r.clock.advance(300)
	r.send([]byte{protocol.Start})
	st := r.engine.State()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 0, st.Ticks)
	assert.True(t, st.Recording)
	seq, _ := r.engine.Sequence(1)
	assert.Empty(t, seq.Items)
	assert.Equal(t, r.clock.t, seq.Start)
	seq0, _ := r.engine.Sequence(0)
	assert.NotEmpty(t, seq0.Items, "finished channels survive")
}

func TestTempo(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	assert.Equal(t, 120, r.engine.Tempo())
	r.send(protocol.TempoSysEx(600000))
	assert.Equal(t, 100, r.engine.Tempo())
	assert.Equal(t, []shared.Event{shared.Tempo}, r.drain())
}

func TestDetach(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	b := bus.New(charmlog.New(io.Discard))
	detach := r.engine.Attach(b)
	assert.Equal(t, 1, b.Subscribers(protocol.SysRealTime))
	detach()
	assert.Equal(t, 0, b.Subscribers(protocol.SysRealTime))
	assert.Equal(t, 0, b.Subscribers(protocol.AnyChannelVoice))
}

func TestEvents(t *testing.T) {
	r := newRig(t, session(1, 4, 4))
	r.send(protocol.VocalHarmonyOn)
	r.send([]byte{protocol.Start})
	r.loop(60)
	assert.Equal(t, []shared.Event{
		shared.Harmony,
		shared.RecordStart,
		shared.ChannelAdvance,
		shared.SequenceCut,
	}, r.drain())
}

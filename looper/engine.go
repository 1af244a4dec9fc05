package looper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/JeanRibes/looper/bus"
	"github.com/JeanRibes/looper/config"
	"github.com/JeanRibes/looper/protocol"
	. "github.com/JeanRibes/looper/shared"
)

var (
	ErrUnmatchedNoteOff = errors.New("unmatched note-off")
	ErrChannelOverflow  = errors.New("all 16 song channels are recorded")
)

const NUM_CHANNELS = protocol.NUM_CHANNELS

// Player replays a sequence snapshot. The Scheduler is the production Player.
type Player interface {
	Play(Sequence)
}

type Option func(*Engine)

func WithLogger(l *charmlog.Logger) Option {
	return func(e *Engine) { e.logger = l.WithPrefix("loop") }
}

// WithEvents sets the sink for observer notifications. Sends never block.
func WithEvents(sink chan<- Message) Option {
	return func(e *Engine) { e.events = sink }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the looper state machine. Recording targets the active channel; each
// time the clock completes a sequence the finished channel starts looping and the
// next channel becomes active. All state changes go through the handlers below,
// one message at a time.
type Engine struct {
	sync.Mutex

	session          config.Session
	ticksPerSequence int
	source           uint8

	player Player
	out    Sender
	events chan<- Message
	logger *charmlog.Logger
	now    func() time.Time

	started   bool
	recording bool
	harmony   bool
	ticks     int
	// active reaches NUM_CHANNELS once channel 15 holds a loop; nothing records after that
	active    int
	sequences [NUM_CHANNELS]*Sequence
	ledger    Ledger
	// keys of the source channel that are down right now, recording or not
	held      map[uint8]int
	lastCut   time.Time
	tempo     int
}

func NewEngine(session config.Session, player Player, out Sender, opts ...Option) *Engine {
	e := &Engine{
		session:          session,
		ticksPerSequence: session.TicksPerSequence(),
		source:           uint8(session.SourceChannel) & 0xF,
		player:           player,
		out:              out,
		logger:           charmlog.Default().WithPrefix("loop"),
		now:              time.Now,
		tempo:            120,
		held:             make(map[uint8]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach subscribes the engine to the bus and returns a function that detaches it.
func (e *Engine) Attach(b *bus.Bus) (detach func()) {
	type sub struct {
		kind protocol.Kind
		id   bus.Subscription
	}
	subs := []sub{
		{protocol.SysEx, b.Subscribe(protocol.SysEx, e.HandleSysEx)},
		{protocol.SysRealTime, b.Subscribe(protocol.SysRealTime, e.HandleRealTime)},
		{protocol.AnyChannelVoice, b.Subscribe(protocol.AnyChannelVoice, e.HandleVoice)},
		{protocol.ControlChange, b.Subscribe(protocol.ControlChange, e.Forward)},
		{protocol.ProgramChange, b.Subscribe(protocol.ProgramChange, e.Forward)},
	}
	return func() {
		for _, s := range subs {
			b.Unsubscribe(s.kind, s.id)
		}
	}
}

func (e *Engine) TicksPerSequence() int {
	return e.ticksPerSequence
}

// HandleSysEx reacts to the harmony button and tempo messages.
func (e *Engine) HandleSysEx(msg protocol.Message) error {
	sys, ok := msg.(protocol.System)
	if !ok || sys.Kind() != protocol.SysEx {
		return nil
	}
	e.Lock()
	defer e.Unlock()

	if bpm, ok := protocol.Tempo(sys); ok {
		e.tempo = bpm
		e.logger.Info("tempo", "bpm", bpm)
		Notify(e.events, Message{Type: Tempo, Number: bpm})
		return nil
	}

	switch button := protocol.PanelButton(sys); button {
	case protocol.HarmonyOnButton:
		e.harmony = true
		e.logger.Info("=== vocal harmony on")
		Notify(e.events, Message{Type: Harmony, Boolean: true})
		if e.started {
			return e.startRecording()
		}
	case protocol.HarmonyOffButton:
		e.harmony = false
		e.logger.Info("=== vocal harmony off")
		Notify(e.events, Message{Type: Harmony, Boolean: false})
		e.stopRecording()
	case protocol.EffectOnButton, protocol.EffectOffButton:
		e.logger.Info("=== " + button.String())
		Notify(e.events, Message{Type: Effect, Boolean: button == protocol.EffectOnButton})
	}
	return nil
}

// HandleRealTime counts clock ticks and starts the session on transport start.
func (e *Engine) HandleRealTime(msg protocol.Message) error {
	sys, ok := msg.(protocol.System)
	if !ok {
		return nil
	}
	e.Lock()
	defer e.Unlock()

	switch sys.Type() {
	case protocol.Start:
		e.start(e.now())
	case protocol.TimingClock:
		if !e.started {
			return nil
		}
		e.ticks++
		if e.ticks >= e.ticksPerSequence {
			e.cut(e.now())
		}
	}
	return nil
}

// HandleVoice records channel-voice messages of the source channel and puts
// note-offs of notes held across a cut back into the sequence that started them.
func (e *Engine) HandleVoice(msg protocol.Message) error {
	cv, ok := msg.(protocol.ChannelVoice)
	if !ok || cv.Channel() != e.source {
		return nil
	}
	if !cv.Complete() {
		e.logger.Debug("ignoring truncated message", "err", cv.Err())
		return nil
	}
	e.Lock()
	defer e.Unlock()
	now := e.now()
	e.track(cv)

	if cv.IsNoteEnd() {
		if note, _ := cv.Note(); e.ledger.Has(note) {
			return e.reconcile(cv, now)
		}
	}
	if !e.recording {
		return nil
	}
	seq := e.sequences[e.active]
	item := LoopItem{
		Message: cv.WithChannel(uint8(e.active)),
		Offset:  offsetAt(seq.Start, now),
	}
	seq.Append(item)
	e.logger.Debug("recorded", "channel", e.active, "offset", item.Offset, "msg", item.Message)
	return nil
}

func (e *Engine) track(cv protocol.ChannelVoice) {
	note, ok := cv.Note()
	if !ok {
		return
	}
	switch {
	case cv.IsNoteStart():
		e.held[note]++
	case cv.IsNoteEnd() && e.held[note] > 1:
		e.held[note]--
	case cv.IsNoteEnd():
		delete(e.held, note)
	}
}

// Forward copies control and program changes of the source channel to every
// channel that has not been recorded yet, recording or not.
func (e *Engine) Forward(msg protocol.Message) error {
	cv, ok := msg.(protocol.ChannelVoice)
	if !ok || cv.Channel() != e.source || !cv.Complete() {
		return nil
	}
	if k := cv.Kind(); k != protocol.ControlChange && k != protocol.ProgramChange {
		return nil
	}
	e.Lock()
	from := e.active
	e.Unlock()

	var errs error
	for ch := from; ch < NUM_CHANNELS; ch++ {
		if err := e.out.Send(cv.WithChannel(uint8(ch)).Bytes()); err != nil {
			errs = errors.Join(errs, fmt.Errorf("forward to channel %d: %w", ch, err))
		}
	}
	e.logger.Debug("forwarded", "msg", cv, "from", from, "count", NUM_CHANNELS-from)
	return errs
}

// start begins the session on channel 0, or restarts the active sequence when the
// transport is started again.
func (e *Engine) start(now time.Time) {
	e.ticks = 0
	e.lastCut = now
	if !e.started {
		e.started = true
		e.sequences[0] = newSequence(0, now)
		e.logger.Info("style start, session begins")
	} else if e.active < NUM_CHANNELS {
		e.sequences[e.active].Clear(now)
		e.logger.Info("style restart", "channel", e.active)
	}
	if err := e.startRecording(); err != nil {
		e.logger.Error(err)
	}
}

// cut closes the active sequence. Channels below the active one replay, the
// finished one joins them if it holds notes, and recording moves on.
func (e *Engine) cut(now time.Time) {
	e.logger.Info("sequence cut ✂", "channel", e.active, "ticks", e.ticks)
	e.lastCut = now
	finished := e.active

	for i := 0; i < finished && i < NUM_CHANNELS; i++ {
		e.play(i)
	}

	switch {
	case finished >= NUM_CHANNELS:
	case !e.sequences[finished].HasNotes():
		e.sequences[finished].Clear(now)
		e.logger.Info("sequence has no notes, skipped", "channel", finished)
		Notify(e.events, Message{Type: SequenceVoid, Number: finished})
	default:
		e.ledger.Absorb(e.sequences[finished], e.held)
		e.active++
		if e.active < NUM_CHANNELS {
			e.sequences[e.active] = newSequence(e.active, now)
			e.logger.Info("recording channel increased ↑", "channel", e.active, "pending", e.ledger.Len())
			Notify(e.events, Message{Type: ChannelAdvance, Number: e.active})
		} else {
			e.logger.Error(ErrChannelOverflow, "last", finished)
			Notify(e.events, Message{Type: Overflow, Number: finished})
		}
		e.play(finished)
	}
	Notify(e.events, Message{Type: SequenceCut, Number: finished, Number2: e.active})

	if e.harmony && e.active < NUM_CHANNELS {
		e.startRecording()
	} else {
		e.stopRecording()
	}
	e.ticks = 0
}

func (e *Engine) play(channel int) {
	seq := e.sequences[channel]
	if seq == nil || len(seq.Items) == 0 {
		return
	}
	e.player.Play(seq.Snapshot())
}

func (e *Engine) startRecording() error {
	if e.active >= NUM_CHANNELS {
		e.recording = false
		Notify(e.events, Message{Type: Overflow, Number: e.active})
		return fmt.Errorf("start recording: %w", ErrChannelOverflow)
	}
	if !e.recording {
		Notify(e.events, Message{Type: RecordStart, Number: e.active})
	}
	e.recording = true
	e.logger.Info("live! now recording", "channel", e.active, "name", ChannelName(e.active))
	return nil
}

func (e *Engine) stopRecording() {
	if e.recording {
		Notify(e.events, Message{Type: RecordStop, Number: e.active})
	}
	e.recording = false
	e.logger.Info("stopped recording", "channel", e.active)
	if e.ticks != e.ticksPerSequence {
		e.logger.Warn("harmony off before the end of the sequence", "ticks", e.ticks, "of", e.ticksPerSequence)
	}
}

// reconcile inserts a note-off that arrived after the sequence holding its
// note-on was cut. The offset is measured from the last cut, which places the
// note-off where the held note ends when that sequence loops.
func (e *Engine) reconcile(cv protocol.ChannelVoice, now time.Time) error {
	note, _ := cv.Note()
	owner, _ := e.ledger.Take(note)
	seq := e.sequences[owner]
	if seq == nil || len(seq.Items) == 0 {
		err := fmt.Errorf("%w: note %d, channel %d has no recorded items", ErrUnmatchedNoteOff, note, owner)
		e.logger.Error(err, "channel", owner, "active", e.active, "ticks", e.ticks, "note", note)
		Notify(e.events, Message{Type: Error, String: err.Error()})
		return err
	}
	item := LoopItem{
		Message: cv.WithChannel(uint8(owner)),
		Offset:  offsetAt(e.lastCut, now),
	}
	i := seq.Insert(item)
	e.logger.Debug("found note-off of held note", "note", note, "channel", owner, "offset", item.Offset, "index", i, "pending", e.ledger.Len())
	Notify(e.events, Message{Type: NoteOffFixed, Number: owner, Number2: int(note)})
	return nil
}

// Tempo is the last tempo the keyboard announced. It is informational only.
func (e *Engine) Tempo() int {
	e.Lock()
	defer e.Unlock()
	return e.tempo
}

type State struct {
	Started   bool
	Recording bool
	Harmony   bool
	Active    int
	Ticks     int
	Pending   int
}

func (e *Engine) State() State {
	e.Lock()
	defer e.Unlock()
	return State{
		Started:   e.started,
		Recording: e.recording,
		Harmony:   e.harmony,
		Active:    e.active,
		Ticks:     e.ticks,
		Pending:   e.ledger.Len(),
	}
}

// Sequence returns a copy of the sequence of channel, if it exists.
func (e *Engine) Sequence(channel int) (Sequence, bool) {
	e.Lock()
	defer e.Unlock()
	if channel < 0 || channel >= NUM_CHANNELS || e.sequences[channel] == nil {
		return Sequence{}, false
	}
	return e.sequences[channel].Snapshot(), true
}

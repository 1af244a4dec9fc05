package looper

import (
	"container/heap"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Sender writes raw MIDI bytes to an output port.
type Sender interface {
	Send([]byte) error
}

type scheduledSend struct {
	at      time.Time
	seq     uint64 // FIFO among equal deadlines
	channel int
	data    []byte
}

type sendQueue []scheduledSend

func (q sendQueue) Len() int { return len(q) }
func (q sendQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q sendQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *sendQueue) Push(x any)   { *q = append(*q, x.(scheduledSend)) }
func (q *sendQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// Scheduler replays sequences. Every item becomes its own entry in a delay queue,
// due at the time of the Play call plus the item offset; one goroutine sends the
// entries as they come due. Pending sends can be counted and are dropped on Close.
type Scheduler struct {
	out    Sender
	logger *charmlog.Logger

	mu     sync.Mutex
	queue  sendQueue
	nextID uint64
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(out Sender, logger *charmlog.Logger) *Scheduler {
	s := &Scheduler{
		out:    out,
		logger: logger.WithPrefix("play"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Play schedules every item of seq relative to now. It returns immediately.
func (s *Scheduler) Play(seq Sequence) {
	now := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for _, it := range seq.Items {
		s.nextID++
		heap.Push(&s.queue, scheduledSend{
			at:      now.Add(it.Offset),
			seq:     s.nextID,
			channel: seq.Channel,
			data:    it.Message.Bytes(),
		})
	}
	s.mu.Unlock()
	s.logger.Debug("playback", "channel", seq.Channel, "items", len(seq.Items))

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending counts sends not yet performed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the scheduler and drops whatever is still pending. It returns once no
// send can happen anymore, so the output can be closed safely afterwards.
func (s *Scheduler) Close() (dropped int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	dropped = len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Info("cancelled pending sends", "count", dropped)
	}
	return dropped
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		now := time.Now()
		var due []scheduledSend
		for len(s.queue) > 0 && !s.queue[0].at.After(now) {
			due = append(due, heap.Pop(&s.queue).(scheduledSend))
		}
		wait := time.Duration(-1)
		if len(s.queue) > 0 {
			wait = s.queue[0].at.Sub(now)
		}
		s.mu.Unlock()

		for i, it := range due {
			select {
			case <-s.done:
				s.requeue(due[i:])
				return
			default:
			}
			if err := s.out.Send(it.data); err != nil {
				s.logger.Error("send failed", "channel", it.channel, "bytes", it.data, "err", err)
			}
		}
		if len(due) > 0 {
			// sending took time, look at the queue again before sleeping
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// requeue puts back sends that were due but not performed, so Close counts them.
func (s *Scheduler) requeue(items []scheduledSend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		heap.Push(&s.queue, it)
	}
}

// Package playback plays synthesized speech segments one at a time, in the
// order they arrived, and can drop everything at any moment.
package playback

import (
	"log/slog"
	"time"

	"github.com/vango-go/vai-call/pkg/call"
)

// DefaultGap is the pause inserted between consecutive segments.
const DefaultGap = 100 * time.Millisecond

// Segment is one unit of synthesized speech.
type Segment struct {
	Seq   int64
	Audio []byte
}

// Player renders a segment to an output device. done must be called exactly
// once, with nil when the segment finished and an error when it failed. It
// may be called from any goroutine.
type Player interface {
	Play(seg Segment, done func(error)) (Playback, error)
}

// Playback is a segment that is currently being rendered.
type Playback interface {
	Stop()
}

// Scheduler runs queue work on the session's control goroutine. Both Post and
// AfterFunc run fn on that goroutine.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Hooks are invoked on the scheduler goroutine.
type Hooks struct {
	// OnBusy fires when the queue goes from empty to holding work.
	OnBusy func()
	// OnIdle fires when the queue drains or is cancelled.
	OnIdle func()
	// OnPlayed fires after each segment ends, err is nil on success.
	OnPlayed func(seg Segment, err error)
}

type Options struct {
	Gap    time.Duration
	Logger *slog.Logger
	Hooks  Hooks
}

// Queue is the playback queue. It is not safe for concurrent use; every
// method must run on the scheduler goroutine.
type Queue struct {
	player Player
	sched  Scheduler
	gap    time.Duration
	logger *slog.Logger
	hooks  Hooks

	pending   []Segment
	current   *Segment
	playback  Playback
	cancelGap func()
	waiting   bool
	busy      bool
	closed    bool

	gen     uint64
	nextSeq int64
}

func NewQueue(player Player, sched Scheduler, opts Options) *Queue {
	gap := opts.Gap
	if gap <= 0 {
		gap = DefaultGap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		player: player,
		sched:  sched,
		gap:    gap,
		logger: logger,
		hooks:  opts.Hooks,
	}
}

// Enqueue appends audio at the tail and starts draining if the queue was
// idle. It returns the segment as queued.
func (q *Queue) Enqueue(audio []byte) (Segment, bool) {
	if q.closed {
		return Segment{}, false
	}
	q.nextSeq++
	seg := Segment{Seq: q.nextSeq, Audio: audio}
	q.pending = append(q.pending, seg)
	if !q.busy {
		q.busy = true
		if q.hooks.OnBusy != nil {
			q.hooks.OnBusy()
		}
	}
	if q.current == nil && !q.waiting {
		q.playNext()
	}
	return seg, true
}

// Cancel stops the playing segment and discards everything queued. It is a
// no-op when the queue is idle.
func (q *Queue) Cancel() {
	q.gen++
	dropped := len(q.pending)
	q.pending = nil
	if q.cancelGap != nil {
		q.cancelGap()
		q.cancelGap = nil
	}
	q.waiting = false
	if q.playback != nil {
		q.playback.Stop()
		q.playback = nil
	}
	if q.current != nil {
		q.logger.Debug("playback cancelled", "seq", q.current.Seq, "dropped", dropped)
		q.current = nil
	}
	q.setIdle()
}

// Close cancels playback and refuses further segments.
func (q *Queue) Close() {
	q.Cancel()
	q.closed = true
}

// Len reports how many segments wait behind the one playing.
func (q *Queue) Len() int { return len(q.pending) }

// Playing reports whether a segment is being rendered right now.
func (q *Queue) Playing() bool { return q.current != nil }

// Busy reports whether the queue holds any unfinished work.
func (q *Queue) Busy() bool { return q.busy }

func (q *Queue) playNext() {
	if len(q.pending) == 0 {
		q.setIdle()
		return
	}
	seg := q.pending[0]
	q.pending[0] = Segment{}
	q.pending = q.pending[1:]

	q.gen++
	gen := q.gen
	q.current = &seg

	pb, err := q.player.Play(seg, func(err error) {
		q.sched.Post(func() { q.finished(gen, seg, err) })
	})
	if err != nil {
		q.finished(gen, seg, err)
		return
	}
	if gen == q.gen {
		q.playback = pb
	}
}

func (q *Queue) finished(gen uint64, seg Segment, err error) {
	if gen != q.gen || q.current == nil {
		return
	}
	q.current = nil
	q.playback = nil

	if err != nil {
		err = call.NewPlaybackError("segment playback failed", err)
		q.logger.Warn("segment playback failed", "seq", seg.Seq, "bytes", len(seg.Audio), "error", err)
	}
	if q.hooks.OnPlayed != nil {
		q.hooks.OnPlayed(seg, err)
	}
	if gen != q.gen {
		// A hook cancelled or closed the queue.
		return
	}

	if len(q.pending) == 0 {
		q.setIdle()
		return
	}
	q.waiting = true
	q.cancelGap = q.sched.AfterFunc(q.gap, func() { q.gapElapsed(gen) })
}

func (q *Queue) gapElapsed(gen uint64) {
	if gen != q.gen || !q.waiting {
		return
	}
	q.waiting = false
	q.cancelGap = nil
	q.playNext()
}

func (q *Queue) setIdle() {
	if !q.busy {
		return
	}
	q.busy = false
	if q.hooks.OnIdle != nil {
		q.hooks.OnIdle()
	}
}

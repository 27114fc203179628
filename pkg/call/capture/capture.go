// Package capture records one clip of microphone audio per listening
// interval.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-call/pkg/call"
)

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Constraints are the processing options requested from the input device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       16000,
		Channels:         1,
	}
}

// Device opens a microphone. onChunk receives signed 16-bit PCM and may be
// called from any goroutine until the stream is closed.
type Device interface {
	Open(ctx context.Context, c Constraints, onChunk func([]byte)) (Stream, error)
}

type Stream interface {
	Close() error
}

// Poster runs fn on the session's control goroutine.
type Poster interface {
	Post(fn func()) bool
}

// ErrBusy is returned by Start while an interval is already in progress.
var ErrBusy = errors.New("capture already in progress")

// Controller is not safe for concurrent use; all methods must run on the
// goroutine behind its Poster.
type Controller struct {
	device      Device
	loop        Poster
	constraints Constraints
	logger      *slog.Logger

	state  State
	stream Stream
	chunks [][]byte
	size   int
	gen    uint64
}

func NewController(device Device, loop Poster, constraints Constraints, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if constraints.SampleRate <= 0 {
		constraints.SampleRate = 16000
	}
	if constraints.Channels <= 0 {
		constraints.Channels = 1
	}
	return &Controller{
		device:      device,
		loop:        loop,
		constraints: constraints,
		logger:      logger,
	}
}

func (c *Controller) State() State { return c.state }

// Format is the PCM layout of clips this controller produces.
func (c *Controller) Format() Format {
	return Format{SampleRate: c.constraints.SampleRate, Channels: c.constraints.Channels, BitsPerSample: 16}
}

// Start requests the device off the control goroutine. done runs on the
// control goroutine with nil once recording has begun, or with a
// permission/device error. done is not called if the interval is aborted
// before the device arrives.
func (c *Controller) Start(ctx context.Context, done func(error)) error {
	if c.state != StateIdle {
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	c.state = StateRequesting
	c.chunks = nil
	c.size = 0

	go func() {
		stream, err := c.device.Open(ctx, c.constraints, func(chunk []byte) {
			if len(chunk) == 0 {
				return
			}
			owned := append([]byte(nil), chunk...)
			c.loop.Post(func() { c.appendChunk(gen, owned) })
		})
		if !c.loop.Post(func() { c.opened(gen, stream, err, done) }) && stream != nil {
			_ = stream.Close()
		}
	}()
	return nil
}

func (c *Controller) opened(gen uint64, stream Stream, err error, done func(error)) {
	if gen != c.gen || c.state != StateRequesting {
		if stream != nil {
			_ = stream.Close()
		}
		c.logger.Debug("discarding device opened for an aborted interval")
		return
	}
	if err != nil {
		c.state = StateIdle
		if _, ok := call.KindOf(err); !ok {
			err = call.NewDeviceError("open microphone", err)
		}
		if done != nil {
			done(err)
		}
		return
	}
	c.stream = stream
	c.state = StateRecording
	c.logger.Debug("recording started",
		"sample_rate", c.constraints.SampleRate,
		"channels", c.constraints.Channels,
		"echo_cancellation", c.constraints.EchoCancellation,
		"noise_suppression", c.constraints.NoiseSuppression,
		"auto_gain_control", c.constraints.AutoGainControl,
	)
	if done != nil {
		done(nil)
	}
}

func (c *Controller) appendChunk(gen uint64, chunk []byte) {
	if gen != c.gen || c.state != StateRecording {
		return
	}
	c.chunks = append(c.chunks, chunk)
	c.size += len(chunk)
}

// Stop finalizes the interval. It returns false without any effect unless the
// controller is recording.
func (c *Controller) Stop() (Clip, bool) {
	if c.state != StateRecording {
		return Clip{}, false
	}
	c.state = StateStopping
	c.release()

	pcm := make([]byte, 0, c.size)
	for _, chunk := range c.chunks {
		pcm = append(pcm, chunk...)
	}
	c.chunks = nil
	c.size = 0
	c.gen++
	c.state = StateIdle

	clip := Clip{PCM: pcm, Format: c.Format()}
	c.logger.Debug("recording stopped", "bytes", clip.Len(), "duration", clip.Duration())
	return clip, true
}

// Abort drops the interval without producing a clip. It reports whether
// anything was in progress.
func (c *Controller) Abort() bool {
	switch c.state {
	case StateIdle:
		return false
	case StateRecording, StateStopping:
		c.release()
	}
	c.chunks = nil
	c.size = 0
	c.gen++
	c.state = StateIdle
	return true
}

func (c *Controller) release() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Warn("close microphone", "error", err)
	}
	c.stream = nil
}

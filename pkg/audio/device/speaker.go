package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/vango-go/vai-call/pkg/call/playback"
)

// errStopped is reported to a segment's done callback when it was cut short.
var errStopped = errors.New("playback stopped")

const drainPoll = 10 * time.Millisecond

// Speaker plays WAV segments through a single oto context.
type Speaker struct {
	ctx        *oto.Context
	sampleRate int
	logger     *slog.Logger
}

// NewSpeaker opens the output device. oto allows one context per process.
func NewSpeaker(sampleRate int, logger *slog.Logger) (*Speaker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx, sampleRate: sampleRate, logger: logger}, nil
}

// Play decodes seg and starts it. done fires once the player has drained, or
// with an error if the segment was stopped or failed.
func (s *Speaker) Play(seg playback.Segment, done func(error)) (playback.Playback, error) {
	pcm, err := decodeSegment(seg.Audio, s.sampleRate)
	if err != nil {
		return nil, err
	}
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	p := &speakerPlayback{player: player, stop: make(chan struct{})}
	go p.watch(done)
	return p, nil
}

// Close suspends the output device. The context itself cannot be released.
func (s *Speaker) Close() error {
	if s == nil || s.ctx == nil {
		return nil
	}
	return s.ctx.Suspend()
}

type speakerPlayback struct {
	player   *oto.Player
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *speakerPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *speakerPlayback) watch(done func(error)) {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			p.player.Pause()
			_ = p.player.Close()
			done(errStopped)
			return
		case <-ticker.C:
			if p.player.IsPlaying() {
				continue
			}
			err := p.player.Err()
			_ = p.player.Close()
			done(err)
			return
		}
	}
}

// decodeSegment turns a WAV payload into mono signed 16-bit PCM at
// sampleRate.
func decodeSegment(audio []byte, sampleRate int) ([]byte, error) {
	streamer, format, err := wav.Decode(bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	var source beep.Streamer = streamer
	target := beep.SampleRate(sampleRate)
	if format.SampleRate != target {
		source = beep.Resample(4, format.SampleRate, target, streamer)
	}

	out := bytes.NewBuffer(make([]byte, 0, streamer.Len()*2))
	buf := make([][2]float64, 512)
	var sample [2]byte
	for {
		n, ok := source.Stream(buf)
		for _, frame := range buf[:n] {
			v := frame[0]
			if format.NumChannels > 1 {
				v = (frame[0] + frame[1]) / 2
			}
			v = math.Max(-1, math.Min(1, v))
			binary.LittleEndian.PutUint16(sample[:], uint16(int16(v*math.MaxInt16)))
			out.Write(sample[:])
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if out.Len() == 0 {
		return nil, errors.New("decode wav: no samples")
	}
	return out.Bytes(), nil
}

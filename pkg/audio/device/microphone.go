// Package device connects the call session to real audio hardware: a malgo
// capture device for the microphone and an oto player for the speaker.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/vango-go/vai-call/pkg/call"
	"github.com/vango-go/vai-call/pkg/call/capture"
)

// Microphone opens the default capture device on demand.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

func NewMicrophone(logger *slog.Logger) (*Microphone, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, func(message string) {
		logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, call.NewDeviceError("init audio context", err)
	}
	return &Microphone{ctx: ctx, logger: logger}, nil
}

// Open starts capturing signed 16-bit PCM. miniaudio exposes no echo
// cancellation, noise suppression, or gain control, so those constraints are
// only logged.
func (m *Microphone) Open(ctx context.Context, c capture.Constraints, onChunk func([]byte)) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, call.NewDeviceError("open microphone", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.Channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			if len(pInputSamples) > 0 {
				onChunk(pInputSamples)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classifyOpenError(err)
	}
	m.logger.Debug("microphone open",
		"sample_rate", c.SampleRate,
		"channels", c.Channels,
		"echo_cancellation", c.EchoCancellation,
		"noise_suppression", c.NoiseSuppression,
		"auto_gain_control", c.AutoGainControl,
	)
	return &micStream{dev: dev}, nil
}

// Close releases the audio context.
func (m *Microphone) Close() error {
	if m == nil || m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type micStream struct {
	dev *malgo.Device
}

func (s *micStream) Close() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev.Uninit()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("stop microphone: %w", err)
	}
	return nil
}

// classifyOpenError separates a denied microphone from a missing or broken
// one. miniaudio reports both as plain result codes.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return call.NewPermissionError("microphone access denied", err)
	default:
		return call.NewDeviceError("no usable microphone", err)
	}
}

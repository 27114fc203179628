package device

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vango-go/vai-call/pkg/call"
	"github.com/vango-go/vai-call/pkg/call/capture"
)

func testWAV(sampleRate, channels, frames int) []byte {
	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%200-100)*100))
	}
	return capture.Clip{
		PCM:    pcm,
		Format: capture.Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: 16},
	}.WAV()
}

func TestDecodeSegment_SameRate(t *testing.T) {
	t.Parallel()

	pcm, err := decodeSegment(testWAV(24000, 1, 2400), 24000)
	if err != nil {
		t.Fatalf("decodeSegment error: %v", err)
	}
	if len(pcm) != 2400*2 {
		t.Fatalf("len=%d, want %d", len(pcm), 2400*2)
	}
}

func TestDecodeSegment_ResamplesAndDownmixes(t *testing.T) {
	t.Parallel()

	pcm, err := decodeSegment(testWAV(48000, 2, 4800), 24000)
	if err != nil {
		t.Fatalf("decodeSegment error: %v", err)
	}
	frames := len(pcm) / 2
	if frames < 2300 || frames > 2500 {
		t.Fatalf("frames=%d, want about 2400 after resampling 100ms", frames)
	}
}

func TestDecodeSegment_RejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := decodeSegment([]byte("definitely not a wav file"), 24000); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestClassifyOpenError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want call.ErrorKind
	}{
		{err: errors.New("Access denied."), want: call.ErrPermission},
		{err: errors.New("Operation not permitted."), want: call.ErrPermission},
		{err: errors.New("No such device."), want: call.ErrDevice},
		{err: errors.New("Failed to initialize backend."), want: call.ErrDevice},
	}
	for _, tt := range tests {
		if got := classifyOpenError(tt.err); !call.IsKind(got, tt.want) {
			t.Fatalf("classifyOpenError(%q)=%v, want %s", tt.err, got, tt.want)
		}
	}
}

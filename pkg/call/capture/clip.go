package capture

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Clip is one finalized recording. It is never modified after Stop returns it.
type Clip struct {
	PCM    []byte
	Format Format
}

func (c Clip) Len() int { return len(c.PCM) }

func (c Clip) Empty() bool { return len(c.PCM) == 0 }

func (c Clip) Duration() time.Duration {
	bps := c.Format.bytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(bps)
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAV wraps the clip in a 44-byte RIFF header.
func (c Clip) WAV() []byte {
	channels := uint16(c.Format.Channels)
	bits := uint16(c.Format.BitsPerSample)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(c.PCM)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(c.Format.SampleRate),
		ByteRate:      uint32(c.Format.bytesPerSecond()),
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(c.PCM)),
	}
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(c.PCM)))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(c.PCM)
	return buf.Bytes()
}

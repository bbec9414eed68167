package audio

import (
	"encoding/binary"
	"time"
)

// Capture format fed to the transcription service: mono 16 kHz 16-bit PCM.
const (
	sampleRate     = 16000
	bytesPerSample = 2
	wavHeaderSize  = 44
)

// Chunk is one ordered, bounded segment of the live audio feed. Data is a
// complete standalone WAV file so each chunk can be transcribed on its own.
type Chunk struct {
	Seq      uint64
	Data     []byte
	Duration time.Duration
}

// pcmBytesFor returns the raw PCM payload size for a chunk of the given duration.
func pcmBytesFor(d time.Duration) int {
	return int(d.Seconds() * sampleRate * bytesPerSample)
}

// wrapWAV prepends a RIFF/WAVE header describing the mono 16 kHz PCM payload.
func wrapWAV(pcm []byte) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	h := out[:wavHeaderSize]
	le := binary.LittleEndian
	copy(h[0:], "RIFF")
	le.PutUint32(h[4:], uint32(36+len(pcm)))
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	le.PutUint32(h[16:], 16) // PCM fmt chunk size
	le.PutUint16(h[20:], 1)  // linear PCM
	le.PutUint16(h[22:], 1)  // mono
	le.PutUint32(h[24:], sampleRate)
	le.PutUint32(h[28:], sampleRate*bytesPerSample)
	le.PutUint16(h[32:], bytesPerSample)
	le.PutUint16(h[34:], 8*bytesPerSample)
	copy(h[36:], "data")
	le.PutUint32(h[40:], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

package speech

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"
)

const wavHeaderSize = 44

// MIMEWAV is the playable MIME type produced by the container conversion.
const MIMEWAV = "audio/wav"

// IsRawPCM reports whether a synthesis response MIME type announces raw
// PCM samples that need container conversion before playback. Services
// use forms like "audio/L16;codec=pcm;rate=24000" or "audio/pcm".
func IsRawPCM(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mt, "audio/l16") || strings.HasPrefix(mt, "audio/pcm")
}

// PCMRate extracts the sample rate from a raw PCM MIME type, falling back
// to the fixed synthesis rate when the parameter is absent or malformed.
func PCMRate(mimeType string) int {
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(strings.ToLower(part))
		if v, ok := strings.CutPrefix(part, "rate="); ok {
			if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return SampleRate
}

// EncodeWAV wraps raw 16-bit little-endian mono PCM samples in a standard
// RIFF/WAVE container so any player can consume them.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * Channels * BitDepth / 8
	blockAlign := Channels * BitDepth / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize+len(pcm)-8))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(out[22:24], Channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], BitDepth)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// SplitWAV separates a WAV resource into its PCM payload and sample rate.
// Data that is too short to carry a header is returned as-is with the
// fixed synthesis rate.
func SplitWAV(data []byte) (pcm []byte, sampleRate int) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" {
		return data, SampleRate
	}
	rate := int(binary.LittleEndian.Uint32(data[24:28]))
	if rate <= 0 {
		rate = SampleRate
	}
	return data[wavHeaderSize:], rate
}

// Silence builds a placeholder resource of silent audio for the given
// duration, used when a unit exhausts its synthesis attempts.
func Silence(d time.Duration) *AudioResource {
	samples := int(d.Seconds() * SampleRate)
	pcm := make([]byte, samples*Channels*BitDepth/8)
	return &AudioResource{
		Data:     EncodeWAV(pcm, SampleRate),
		MIMEType: MIMEWAV,
		Silence:  true,
	}
}

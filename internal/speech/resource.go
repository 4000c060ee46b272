// Package speech converts answer text into playable audio via a remote
// speech-synthesis service. It owns the shared rate-limit cooldown, the
// retry policy around the network call, and the PCM to WAV container
// conversion for services that return raw samples.
package speech

import "time"

// Synthesis audio format constants. The synthesis service returns 16-bit
// little-endian mono PCM at this rate when it announces a raw PCM MIME type.
const (
	SampleRate = 24000
	Channels   = 1
	BitDepth   = 16
)

// AudioResource is the result of synthesizing one unit of answer text:
// playable container bytes plus MIME metadata. Immutable after creation and
// safe to share by copy.
type AudioResource struct {
	// Data holds the playable audio bytes (container included).
	Data []byte `json:"data"`

	// MIMEType is the playable MIME type of Data, e.g. "audio/wav".
	MIMEType string `json:"mime_type"`

	// SourceMIME is the MIME type the synthesis service originally
	// returned, kept when Data was converted from raw PCM. Empty when the
	// service returned a playable container directly.
	SourceMIME string `json:"source_mime,omitempty"`

	// Silence marks a placeholder generated locally after a unit failed
	// to synthesize. Silence resources are played but never cached.
	Silence bool `json:"-"`
}

// Duration reports the playback duration of the resource, assuming the
// fixed synthesis format. Returns zero for non-WAV data.
func (r *AudioResource) Duration() time.Duration {
	if len(r.Data) <= wavHeaderSize {
		return 0
	}
	samples := (len(r.Data) - wavHeaderSize) / (BitDepth / 8 * Channels)
	return time.Duration(samples) * time.Second / SampleRate
}

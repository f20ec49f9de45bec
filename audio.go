package agentroom

import (
	"encoding/binary"
	"math"
)

// DefaultSampleRate is the sample rate assumed for PCM16 helpers (48kHz,
// the platform's native audio clock).
const DefaultSampleRate = 48000

// PCM16BytesFor calculates the number of bytes needed for PCM16 audio of
// given duration. Formula: (milliseconds * sampleRate * 2 bytes per sample) / 1000
func PCM16BytesFor(ms int, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }

// RMSLevel computes the root-mean-square level of a PCM16 little-endian
// frame, normalized to [0,1]. Odd trailing bytes are ignored.
func RMSLevel(pcmLE []byte) float64 {
	n := len(pcmLE) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcmLE[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// LevelMeter smooths instantaneous RMS levels into a display-friendly
// volume value, rising quickly on attack and decaying slowly on release.
// It produces the number behind a microphone activity indicator.
type LevelMeter struct {
	attack  float64
	release float64
	level   float64
}

// NewLevelMeter creates a meter with the given smoothing coefficients in
// (0,1]; higher values react faster. Typical: attack 0.9, release 0.15.
func NewLevelMeter(attack, release float64) *LevelMeter {
	if attack <= 0 || attack > 1 {
		attack = 0.9
	}
	if release <= 0 || release > 1 {
		release = 0.15
	}
	return &LevelMeter{attack: attack, release: release}
}

// Process feeds one PCM16 frame and returns the smoothed level in [0,1].
func (m *LevelMeter) Process(pcmLE []byte) float64 {
	raw := RMSLevel(pcmLE)
	coeff := m.release
	if raw > m.level {
		coeff = m.attack
	}
	m.level += coeff * (raw - m.level)
	return m.level
}

// Level returns the current smoothed level without feeding new audio.
func (m *LevelMeter) Level() float64 { return m.level }

// BandVolumes computes normalized per-band energy for a PCM16 frame using
// the Goertzel algorithm at log-spaced center frequencies between 60Hz and
// 8kHz. This is the data series behind a bar visualizer; rendering is the
// consumer's job.
func BandVolumes(pcmLE []byte, sampleRate, bands int) []float64 {
	if bands <= 0 {
		return nil
	}
	out := make([]float64, bands)
	n := len(pcmLE) / 2
	if n == 0 || sampleRate <= 0 {
		return out
	}

	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcmLE[2*i:]))) / 32768.0
	}

	const loHz, hiHz = 60.0, 8000.0
	for b := 0; b < bands; b++ {
		frac := 0.5
		if bands > 1 {
			frac = float64(b) / float64(bands-1)
		}
		freq := loHz * math.Pow(hiHz/loHz, frac)
		if freq >= float64(sampleRate)/2 {
			continue
		}
		out[b] = goertzel(samples, freq, float64(sampleRate))
	}
	return out
}

// goertzel returns the normalized magnitude of one frequency component.
func goertzel(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	n := float64(len(samples))
	return math.Min(1, math.Sqrt(power)/(n/2))
}

// WAVFromPCM16Mono converts raw PCM16 audio data to a complete WAV file.
// Useful for saving session recordings to disk. The input should be 16-bit
// little-endian PCM data (mono channel).
func WAVFromPCM16Mono(pcm []byte, sampleRate int) []byte {
	blockAlign := uint16(2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	riffLen := 36 + dataLen
	out := make([]byte, 44+len(pcm))

	// RIFF header
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], riffLen)
	copy(out[8:], []byte("WAVE"))

	// Format chunk
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // audio format (PCM)
	binary.LittleEndian.PutUint16(out[22:], 1) // num channels (mono)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample

	// Data chunk
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out
}

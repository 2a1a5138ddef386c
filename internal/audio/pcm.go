package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultSampleRate is the sample rate of interviewer audio produced by the
// remote voice model. The playback container must use exactly this rate.
const DefaultSampleRate = 24000

// Float32ToPCM16 converts captured float samples to signed 16-bit PCM.
// Samples are clamped to [-1, 1] before scaling.
func Float32ToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * math.MaxInt16)
	}
	return pcm
}

// PCM16ToBytes serializes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is dropped.
func BytesToPCM16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodeBase64PCM16 serializes samples as base64 little-endian 16-bit PCM,
// the wire form used for audio payloads in both directions.
func EncodeBase64PCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16ToBytes(samples))
}

// DecodeBase64PCM16 decodes a base64 payload into little-endian 16-bit PCM samples.
func DecodeBase64PCM16(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return BytesToPCM16(raw), nil
}

// AvgAmplitude computes the mean absolute amplitude of a PCM frame scaled to
// the 0-255 range used by the speech detector thresholds.
func AvgAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples)) / float64(math.MaxInt16) * 255
}

package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// LevelConfig holds configuration for the speech level meter
type LevelConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	SilenceFrames   int     // consecutive quiet frames before speech is considered over
	FrameSize       int     // samples per frame (320 = 20ms at 16kHz)
}

// DefaultLevelConfig returns the meter settings used for 16kHz mono capture
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25, // 500ms
		FrameSize:       320,
	}
}

// LevelMeter tracks whether the candidate is currently speaking, fed with
// raw little-endian 16-bit PCM as it arrives from the microphone. Chunks
// need not be frame or sample aligned.
type LevelMeter struct {
	config LevelConfig

	mu             sync.Mutex
	pending        []byte
	silenceCounter int
	speaking       bool
	lastRMS        float64
}

// NewLevelMeter creates a level meter. Zero config fields take defaults.
func NewLevelMeter(config LevelConfig) *LevelMeter {
	def := DefaultLevelConfig()
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = def.EnergyThreshold
	}
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = def.SilenceFrames
	}
	if config.FrameSize <= 0 {
		config.FrameSize = def.FrameSize
	}
	return &LevelMeter{config: config}
}

// Process consumes a PCM chunk and reports the speaking state after it,
// plus whether that state changed while processing the chunk.
func (m *LevelMeter) Process(pcm []byte) (speaking bool, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.speaking
	m.pending = append(m.pending, pcm...)

	frameBytes := m.config.FrameSize * 2
	for len(m.pending) >= frameBytes {
		m.processFrame(DecodePCM16(m.pending[:frameBytes]))
		m.pending = m.pending[frameBytes:]
	}
	if len(m.pending) == 0 {
		m.pending = nil
	}

	return m.speaking, m.speaking != before
}

func (m *LevelMeter) processFrame(samples []int16) {
	m.lastRMS = CalculateRMS(samples)

	if m.lastRMS > m.config.EnergyThreshold {
		m.silenceCounter = 0
		m.speaking = true
		return
	}

	m.silenceCounter++
	if m.speaking && m.silenceCounter >= m.config.SilenceFrames {
		m.speaking = false
		m.silenceCounter = 0
	}
}

// Speaking returns whether speech is currently detected
func (m *LevelMeter) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

// Level returns the RMS energy of the most recent complete frame
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRMS
}

// Reset clears detector state and any partial frame
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.silenceCounter = 0
	m.speaking = false
	m.lastRMS = 0
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// EncodePCM16 converts samples to little-endian 16-bit PCM bytes
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize    = 44
	wavPCMFormat     = 1
	wavBitsPerSample = 16
)

// ErrNotWAV is returned when parsing data without a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// Format describes raw 16-bit PCM audio
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 16kHz mono, what the evaluation service transcribes best
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM data rate for the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * wavBitsPerSample / 8
}

// EncodeWAV wraps raw little-endian 16-bit PCM in a canonical 44-byte
// WAV header.
func EncodeWAV(pcm []byte, format Format) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	blockAlign := format.Channels * wavBitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(format.BytesPerSecond()))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV returns the PCM payload and format of a 16-bit PCM WAV file.
// Chunks other than fmt and data are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var format Format
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			if id == "data" {
				// streamed recorders leave the size unset
				size = len(data) - body
			} else {
				return nil, Format{}, fmt.Errorf("truncated %q chunk", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			if f := binary.LittleEndian.Uint16(data[body:]); f != wavPCMFormat {
				return nil, Format{}, fmt.Errorf("unsupported WAV format %d", f)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != wavBitsPerSample {
				return nil, Format{}, fmt.Errorf("unsupported bit depth %d", bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("data chunk before fmt chunk")
			}
			return data[body : body+size], format, nil
		}

		pos = body + size + size%2
	}

	return nil, Format{}, errors.New("no data chunk")
}

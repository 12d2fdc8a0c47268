package interview

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/device"
)

const readChunkSize = 4096

// RecordingManager owns the microphone for one recording at a time and
// buffers what it captures.
type RecordingManager struct {
	mic    device.Microphone
	format audio.Format
	meter  *audio.LevelMeter

	mu       sync.Mutex
	handle   *captureHandle
	buf      *audio.ChunkBuffer
	pumpDone chan struct{}
	failure  error
}

type captureHandle struct {
	rc     io.ReadCloser
	once   sync.Once
	closed atomic.Bool
}

func (h *captureHandle) close() {
	h.once.Do(func() {
		h.closed.Store(true)
		_ = h.rc.Close()
	})
}

// NewRecordingManager creates a recording manager. meter may be nil.
func NewRecordingManager(mic device.Microphone, format audio.Format, meter *audio.LevelMeter) *RecordingManager {
	if format.SampleRate == 0 {
		format = audio.DefaultFormat
	}
	return &RecordingManager{mic: mic, format: format, meter: meter}
}

// Start opens the microphone and begins buffering. Open failures are
// returned as *DeviceError and leave nothing running. If ctx is cancelled
// before Start returns, the device is released and ctx.Err() returned.
//
// onFailure is called once, after the device has been released, if the
// stream breaks mid-recording. onSpeaking is called when the level meter
// changes its mind. Both run on the capture goroutine.
func (r *RecordingManager) Start(ctx context.Context, onFailure func(error), onSpeaking func(bool)) error {
	r.mu.Lock()
	busy := r.handle != nil
	r.mu.Unlock()
	if busy {
		return &DeviceError{Op: "open", Err: ErrAlreadyRecording}
	}

	rc, err := r.mic.Open(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &DeviceError{Op: "open", Err: err}
	}

	h := &captureHandle{rc: rc}

	// checked under the lock so a concurrent cancel-then-Stop cannot miss
	// this handle
	r.mu.Lock()
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		h.close()
		return err
	}
	if r.handle != nil {
		r.mu.Unlock()
		h.close()
		return &DeviceError{Op: "open", Err: ErrAlreadyRecording}
	}
	buf := audio.NewChunkBuffer()
	done := make(chan struct{})
	r.handle = h
	r.buf = buf
	r.pumpDone = done
	r.failure = nil
	if r.meter != nil {
		r.meter.Reset()
	}
	r.mu.Unlock()

	go r.pump(h, buf, done, onFailure, onSpeaking)
	return nil
}

func (r *RecordingManager) pump(h *captureHandle, buf *audio.ChunkBuffer, done chan struct{}, onFailure func(error), onSpeaking func(bool)) {
	defer close(done)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := h.rc.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if r.meter != nil {
				if speaking, changed := r.meter.Process(chunk[:n]); changed && onSpeaking != nil {
					onSpeaking(speaking)
				}
			}
		}
		if err == nil {
			continue
		}

		if h.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}

		h.close()
		failure := &DeviceError{Op: "read", Err: err}
		r.mu.Lock()
		if r.handle == h {
			r.failure = failure
		}
		r.mu.Unlock()
		if onFailure != nil {
			onFailure(failure)
		}
		return
	}
}

// Stop releases the microphone and waits for buffering to finish. It is
// safe to call with nothing recorded, more than once, or after the stream
// already failed. Captured audio stays available to Finalize.
func (r *RecordingManager) Stop() {
	r.mu.Lock()
	h, done := r.handle, r.pumpDone
	r.handle = nil
	r.pumpDone = nil
	r.mu.Unlock()

	if h != nil {
		h.close()
	}
	if done != nil {
		<-done
	}
}

// Failed returns the *DeviceError that broke the current recording's
// stream, or nil. It is cleared by the next Start.
func (r *RecordingManager) Failed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Active reports whether a recording holds the microphone
func (r *RecordingManager) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil
}

// Finalize returns the captured audio as WAV and clears the buffer. It
// returns nil when nothing was captured. Call after Stop.
func (r *RecordingManager) Finalize() []byte {
	r.mu.Lock()
	buf := r.buf
	r.buf = nil
	r.mu.Unlock()

	if buf == nil || buf.IsEmpty() {
		return nil
	}
	return audio.EncodeWAV(buf.Bytes(), r.format)
}

// Buffered returns the number of PCM bytes captured so far
func (r *RecordingManager) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return 0
	}
	return r.buf.Len()
}

// Package sampler measures streamed download and upload throughput.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NodePath81/netgauge/internal/units"
)

const (
	DefaultChunkSize   = 32 * 1024
	DefaultRetainLimit = 64 * 1024 * 1024
)

// ErrStreamFailed matches every *StreamError.
var ErrStreamFailed = errors.New("stream failed")

// StreamError reports a download stream that broke before completion.
type StreamError struct {
	Received int64
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed after %d bytes: %v", e.Received, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Is(target error) bool { return target == ErrStreamFailed }

// ProgressFunc receives the completed fraction in [0, 1].
type ProgressFunc func(fraction float64)

// UploadFunc sends payload. serverElapsed is used when ok is true.
type UploadFunc func(ctx context.Context, payload []byte, start time.Time) (serverElapsed time.Duration, ok bool, err error)

type Sample struct {
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"elapsed"`
	// Payload holds the received bytes up to the retain limit.
	Payload []byte    `json:"-"`
	TCP     *TCPStats `json:"tcp,omitempty"`
}

// MBps is bytes per second in mebibytes.
func (s Sample) MBps() float64 {
	return units.MBps(s.Bytes, s.Elapsed.Seconds())
}

type Sampler struct {
	ChunkSize   int
	RetainLimit int64
}

func New(retainLimit int64) *Sampler {
	if retainLimit <= 0 {
		retainLimit = DefaultRetainLimit
	}
	return &Sampler{ChunkSize: DefaultChunkSize, RetainLimit: retainLimit}
}

// Download drains body. Progress is reported after every chunk when
// expectedTotal > 0; without a total it is never reported.
func (s *Sampler) Download(ctx context.Context, body io.Reader, expectedTotal int64, progress ProgressFunc) (Sample, error) {
	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	buf := make([]byte, chunk)
	var retained []byte
	if expectedTotal > 0 {
		retained = make([]byte, 0, min(expectedTotal, s.RetainLimit))
	}
	var received int64
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, &StreamError{Received: received, Err: err}
		}
		n, err := body.Read(buf)
		if n > 0 {
			received += int64(n)
			if room := s.RetainLimit - int64(len(retained)); room > 0 {
				retained = append(retained, buf[:min(int64(n), room)]...)
			}
			if expectedTotal > 0 && progress != nil {
				progress(min(float64(received)/float64(expectedTotal), 1))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sample{}, &StreamError{Received: received, Err: err}
		}
	}
	if expectedTotal > 0 && received < expectedTotal {
		return Sample{}, &StreamError{Received: received, Err: io.ErrUnexpectedEOF}
	}
	return Sample{Bytes: received, Elapsed: time.Since(start), Payload: retained}, nil
}

// Upload times send. The endpoint's own duration wins when reported.
func (s *Sampler) Upload(ctx context.Context, send UploadFunc, payload []byte) (Sample, error) {
	start := time.Now()
	serverElapsed, ok, err := send(ctx, payload, start)
	elapsed := time.Since(start)
	if err != nil {
		return Sample{}, err
	}
	if ok && serverElapsed > 0 {
		elapsed = serverElapsed
	}
	return Sample{Bytes: int64(len(payload)), Elapsed: elapsed}, nil
}

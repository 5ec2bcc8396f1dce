// ABOUTME: PCM reader helpers for voices
// ABOUTME: Provides a looping, position-tracking reader over device PCM
package output

import (
	"errors"
	"io"
	"sync"
)

// loopReader tracks the read offset and optionally rewinds at EOF
type loopReader struct {
	mu     sync.Mutex
	src    io.ReadSeeker
	loop   bool
	offset int64
}

func newLoopReader(src io.ReadSeeker) *loopReader {
	return &loopReader{src: src}
}

func (r *loopReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.src.Read(p)
	r.offset += int64(n)
	if !errors.Is(err, io.EOF) || !r.loop {
		return n, err
	}
	if n > 0 {
		return n, nil
	}

	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	r.offset = 0
	n, err = r.src.Read(p)
	r.offset += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (r *loopReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := r.src.Seek(offset, whence)
	if err == nil {
		r.offset = pos
	}
	return pos, err
}

func (r *loopReader) SetLoop(loop bool) {
	r.mu.Lock()
	r.loop = loop
	r.mu.Unlock()
}

func (r *loopReader) Loop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loop
}

func (r *loopReader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

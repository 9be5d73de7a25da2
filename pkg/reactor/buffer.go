package reactor

import (
	"bufio"
	"os"
)

// BufferReadWatcher reads from an fd through an internal buffer, firing
// with either a complete line (LineMode) or up to ChunkSize bytes
// otherwise. A zero-length read signals EOF.
type BufferReadWatcher struct {
	*FDWatcher
	r         *bufio.Reader
	lineMode  bool
	chunkSize int
	cb        func(r *Reactor, w *BufferReadWatcher, data []byte, eof bool)
}

// AddBufferRead registers a buffered read watcher on f. If lineMode is
// true, each fire delivers one newline-terminated line (newline
// stripped); otherwise each fire delivers up to chunkSize bytes.
func (r *Reactor) AddBufferRead(f *os.File, lineMode bool, chunkSize int, cb func(r *Reactor, w *BufferReadWatcher, data []byte, eof bool)) *BufferReadWatcher {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	bw := &BufferReadWatcher{r: bufio.NewReader(f), lineMode: lineMode, chunkSize: chunkSize, cb: cb}
	bw.FDWatcher = r.AddFD(f, PollIn, bw.onReady)
	return bw
}

func (bw *BufferReadWatcher) kind() string { return "buffer-read" }

func (bw *BufferReadWatcher) onReady(r *Reactor, _ *FDWatcher, revents uint8) {
	if revents&PollErr != 0 {
		bw.cb(r, bw, nil, true)
		return
	}
	if bw.lineMode {
		line, err := bw.r.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			bw.cb(r, bw, line, false)
		}
		if err != nil {
			bw.cb(r, bw, nil, true)
			bw.Stop()
		}
		return
	}

	buf := make([]byte, bw.chunkSize)
	n, err := bw.r.Read(buf)
	if n > 0 {
		bw.cb(r, bw, buf[:n], false)
	}
	if err != nil {
		bw.cb(r, bw, nil, true)
		bw.Stop()
	}
}

// BufferWriteWatcher fires when its internal write buffer has space,
// letting the caller push more bytes through Write without blocking the
// reactor; Close drains the buffer and closes the fd.
type BufferWriteWatcher struct {
	*FDWatcher
	f *os.File
	w *bufio.Writer
	cb func(r *Reactor, w *BufferWriteWatcher)
}

// AddBufferWrite registers a buffered write watcher on f.
func (r *Reactor) AddBufferWrite(f *os.File, cb func(r *Reactor, w *BufferWriteWatcher)) *BufferWriteWatcher {
	bw := &BufferWriteWatcher{f: f, w: bufio.NewWriter(f), cb: cb}
	bw.FDWatcher = r.AddFD(f, PollOut, bw.onReady)
	return bw
}

func (bw *BufferWriteWatcher) kind() string { return "buffer-write" }

func (bw *BufferWriteWatcher) onReady(r *Reactor, _ *FDWatcher, _ uint8) {
	if bw.w.Buffered() > 0 {
		_ = bw.w.Flush()
	}
	bw.cb(r, bw)
}

// Write queues data for transmission the next time the fd is writable.
func (bw *BufferWriteWatcher) Write(data []byte) (int, error) {
	return bw.w.Write(data)
}

// Close flushes the buffer and closes the underlying fd.
func (bw *BufferWriteWatcher) Close() error {
	if err := bw.w.Flush(); err != nil {
		bw.f.Close()
		return err
	}
	return bw.f.Close()
}

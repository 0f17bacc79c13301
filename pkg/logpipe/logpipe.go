// Package logpipe implements the Log Pipe (spec §4.6): a per-job
// append-only byte stream on disk, indexed by byte offset, fanned out to
// subscribers that tail new bytes or replay from any earlier offset.
package logpipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/rs/zerolog"
)

// Chunk is one delivery to a subscriber: the bytes appended since its last
// delivery (or since its requested starting offset, for the first one) and
// the new tail offset after them.
type Chunk struct {
	Lines     []byte
	NewOffset int64
}

type subscriber struct {
	ch chan Chunk
}

// jobLog tracks the single writer and the live subscriber set for one job's
// log file.
type jobLog struct {
	mu   sync.Mutex
	file *os.File
	size int64
	subs map[*subscriber]bool
}

// Pipe is the Log Pipe component: one instance per process (coordinator or
// heart), serving every job whose log lives under dir.
type Pipe struct {
	dir    string
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*jobLog
}

// New creates a Pipe rooted at dir (spec §6: "<log_dir>/<job_id[0:2]>/<job_id>.log").
func New(dir string) *Pipe {
	return &Pipe{dir: dir, logger: log.WithComponent("logpipe"), jobs: make(map[string]*jobLog)}
}

func pathFor(dir, jobID string) string {
	prefix := jobID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(dir, prefix, jobID+".log")
}

// open returns (creating if needed) the jobLog for jobID. Caller must not
// hold p.mu.
func (p *Pipe) open(jobID string) (*jobLog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if jl, ok := p.jobs[jobID]; ok {
		return jl, nil
	}

	path := pathFor(p.dir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("logpipe: mkdir for %s: %w", jobID, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logpipe: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logpipe: stat %s: %w", path, err)
	}

	jl := &jobLog{file: f, size: info.Size(), subs: make(map[*subscriber]bool)}
	p.jobs[jobID] = jl
	return jl, nil
}

// Append writes data to jobID's log (spec I5: append-only, log_offset_end
// monotone nondecreasing) and fans the chunk out to every live subscriber.
// It is the single writer per job the spec requires: callers must not
// append to the same job concurrently from two goroutines.
func (p *Pipe) Append(jobID string, data []byte) (int64, error) {
	jl, err := p.open(jobID)
	if err != nil {
		return 0, err
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()

	n, err := jl.file.Write(data)
	if err != nil {
		return 0, fmt.Errorf("logpipe: append %s: %w", jobID, err)
	}
	jl.size += int64(n)
	newOffset := jl.size

	chunk := Chunk{Lines: append([]byte(nil), data...), NewOffset: newOffset}
	for sub := range jl.subs {
		select {
		case sub.ch <- chunk:
		default:
			p.logger.Warn().Str("job_id", jobID).Msg("subscriber channel full, dropping chunk")
		}
	}
	return newOffset, nil
}

// Subscribe expresses interest as (jobID, fromOffset) and returns a channel
// of chunks plus an unsubscribe function. The file from fromOffset to the
// current tail is replayed synchronously before Subscribe returns, so the
// caller never races the live tail (spec §4.6, scenario 6).
func (p *Pipe) Subscribe(jobID string, fromOffset int64) (<-chan Chunk, func(), []byte, error) {
	jl, err := p.open(jobID)
	if err != nil {
		return nil, nil, nil, err
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()

	backlog, err := readRange(jl.file.Name(), fromOffset, jl.size)
	if err != nil {
		return nil, nil, nil, err
	}

	sub := &subscriber{ch: make(chan Chunk, 64)}
	jl.subs[sub] = true

	unsub := func() {
		jl.mu.Lock()
		defer jl.mu.Unlock()
		if jl.subs[sub] {
			delete(jl.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, unsub, backlog, nil
}

func readRange(path string, from, to int64) ([]byte, error) {
	if from >= to {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logpipe: open %s for replay: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return nil, fmt.Errorf("logpipe: seek %s: %w", path, err)
	}
	buf := make([]byte, to-from)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("logpipe: read %s: %w", path, err)
	}
	return buf, nil
}

// Writer adapts Pipe.Append to an io.Writer for jobID, so a job's logger
// can tee its output into the Log Pipe instead of (or alongside) the
// process's own log sink.
type Writer struct {
	Pipe  *Pipe
	JobID string
}

func (w *Writer) Write(p []byte) (int, error) {
	if _, err := w.Pipe.Append(w.JobID, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Offset returns the current tail offset for jobID, or 0 if it has no log
// yet.
func (p *Pipe) Offset(jobID string) int64 {
	p.mu.Lock()
	jl, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	jl.mu.Lock()
	defer jl.mu.Unlock()
	return jl.size
}

// Close closes every open log file. Subscribers are not notified; callers
// should unsubscribe before process shutdown.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, jl := range p.jobs {
		if err := jl.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

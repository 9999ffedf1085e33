// Package session runs the single tail subprocess of the process and wires
// its output into the live buffer and the rotating log writer.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apexlog/backend/internal/archive"
	"github.com/apexlog/backend/internal/logfile"
	"github.com/apexlog/backend/internal/models"
)

// DefaultStopTimeout is how long Stop waits after the graceful signal
// before killing the subprocess, and again after the kill.
const DefaultStopTimeout = 5 * time.Second

const chunkQueue = 256

// Options configures a Session.
type Options struct {
	Layout         archive.Layout
	Launcher       Launcher
	Archiver       *archive.Manager
	Writer         *logfile.Writer
	DefaultTarget  string
	StopTimeout    time.Duration
	BufferMaxBytes int
	Logger         *slog.Logger
}

// Session is the process-wide stream state: at most one subprocess, one
// writable segment and one live buffer.
//
// mu serializes control operations (start, stop, archive) in arrival
// order. ioMu guards the writer against the output consumer, so an
// archive holds it for its whole duration and no chunk lands mid-archive.
type Session struct {
	mu   sync.Mutex
	ioMu sync.Mutex

	layout        archive.Layout
	launcher      Launcher
	archiver      *archive.Manager
	writer        *logfile.Writer
	buffer        *Buffer
	defaultTarget string
	stopTimeout   time.Duration
	logger        *slog.Logger

	run         *run
	lastSegment string
}

// run is one launched subprocess and its pumps.
type run struct {
	id         string
	target     string
	proc       Process
	startedAt  time.Time
	persisting bool
	chunks     chan models.Chunk
	done       chan struct{}
	detached   atomic.Bool
	lastStderr atomic.Value
}

// New creates an idle Session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		layout:        opts.Layout,
		launcher:      opts.Launcher,
		archiver:      opts.Archiver,
		writer:        opts.Writer,
		defaultTarget: opts.DefaultTarget,
		stopTimeout:   opts.StopTimeout,
		logger:        logger.With("component", "session"),
	}
	if s.archiver == nil {
		s.archiver = archive.NewManager(opts.Layout, logger)
	}
	if s.writer == nil {
		s.writer = logfile.New(logfile.WithLogger(logger))
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	maxBytes := opts.BufferMaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultBufferMaxBytes
	}
	s.buffer = NewBuffer(maxBytes)
	return s
}

// Buffer exposes the live buffer for read-only consumers.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// Archiver returns the archive manager the session uses.
func (s *Session) Archiver() *archive.Manager {
	return s.archiver
}

// Start launches a tail for target, stopping any running one first. Prior
// logs are archived and a new segment is opened before the launch. A
// writer failure degrades to buffer-only streaming; a launch failure leaves
// the session idle and is returned wrapped in ErrLaunchFailed.
func (s *Session) Start(ctx context.Context, target string) (models.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		s.logger.Info("restarting stream", "previousRun", s.run.id)
		s.stopLocked()
	}
	if target == "" {
		target = s.defaultTarget
	}

	if _, err := s.archiver.ArchivePreAudit(); err != nil {
		s.logger.Warn("pre-audit archive failed", "error", err)
	}
	s.buffer.Reset()

	result := models.StartResult{Target: target}
	s.ioMu.Lock()
	path, err := s.openSegmentLocked()
	s.ioMu.Unlock()
	if err != nil {
		s.logger.Error("log file unavailable, streaming without persistence", "error", err)
	} else {
		result.SegmentPath = path
		result.Persisting = true
	}

	proc, err := s.launcher.Launch(ctx, target)
	if err != nil {
		s.ioMu.Lock()
		s.discardSegmentLocked()
		s.ioMu.Unlock()
		if !errors.Is(err, ErrLaunchFailed) {
			err = fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		s.logger.Error("tail launch failed", "target", target, "error", err)
		result.SegmentPath = ""
		result.Persisting = false
		result.Error = err.Error()
		return result, err
	}

	r := &run{
		id:         uuid.New().String(),
		target:     target,
		proc:       proc,
		startedAt:  time.Now(),
		persisting: result.Persisting,
		chunks:     make(chan models.Chunk, chunkQueue),
		done:       make(chan struct{}),
	}
	s.run = r
	go s.pump(r)

	result.Started = true
	result.RunID = r.id
	s.logger.Info("stream started", "run", r.id, "target", target, "pid", proc.Pid(), "segment", result.SegmentPath)
	return result, nil
}

// Stop terminates the running subprocess and closes the writer. Stopping
// an idle session returns the idle state.
func (s *Session) Stop() models.StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return models.StopResult{Status: models.SessionStatusIdle, SegmentPath: s.lastSegment}
	}
	s.stopLocked()
	return models.StopResult{
		WasRunning:  true,
		Status:      models.SessionStatusIdle,
		SegmentPath: s.lastSegment,
	}
}

// Running reports whether a subprocess is attached.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Status reports idle or running.
func (s *Session) Status() models.SessionStatus {
	if s.Running() {
		return models.SessionStatusRunning
	}
	return models.SessionStatusIdle
}

// Snapshot copies the live buffer.
func (s *Session) Snapshot() []models.Chunk {
	return s.buffer.Snapshot()
}

// Info returns a read-only view of the session.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytes, chunks, evicted := s.buffer.Stats()
	info := models.SessionInfo{
		Status:      models.SessionStatusIdle,
		BufferBytes: bytes,
		Chunks:      chunks,
		Evicted:     evicted,
		LastSegment: s.lastSegment,
	}
	if s.run != nil {
		started := s.run.startedAt
		info.Status = models.SessionStatusRunning
		info.RunID = s.run.id
		info.Target = s.run.target
		info.StartedAt = &started
	}
	if seg, ok := s.writer.Current(); ok {
		info.Segment = &seg
	}
	return info
}

// ArchiveForAnalysis runs the pre-analysis archive with the writer
// quiesced, reopening a segment afterwards if the stream is running.
func (s *Session) ArchiveForAnalysis() models.ArchiveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	return s.archiver.ArchivePreAnalysis(lockedCycler{s})
}

// lockedCycler adapts the session to archive.SegmentCycler. Both locks
// are held by the caller.
type lockedCycler struct{ s *Session }

func (c lockedCycler) CloseSegment() error {
	err := c.s.writer.Close()
	c.s.lastSegment = c.s.writer.LastPath()
	return err
}

func (c lockedCycler) ResumeSegment() (string, error) {
	r := c.s.run
	if r == nil {
		return "", nil
	}
	path, err := c.s.openSegmentLocked()
	if err != nil {
		r.persisting = false
		return "", err
	}
	r.persisting = true
	return path, nil
}

func (s *Session) openSegmentLocked() (string, error) {
	if err := os.MkdirAll(s.layout.MainDir, 0755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return s.writer.OpenNew(s.layout.MainDir)
}

// discardSegmentLocked closes a segment that never received data and
// removes it, so a failed start leaves no empty log behind.
func (s *Session) discardSegmentLocked() {
	seg, ok := s.writer.Current()
	if !ok {
		return
	}
	if err := s.writer.Discard(); err != nil {
		s.logger.Warn("discarding unused segment", "path", seg.Path, "error", err)
	}
}

// stopLocked terminates the current run, escalating to kill after the
// stop timeout, then closes the writer and clears the session state.
func (s *Session) stopLocked() {
	r := s.run
	if err := r.proc.Terminate(); err != nil {
		s.logger.Warn("terminate failed", "run", r.id, "error", err)
	}
	if !waitDone(r.done, s.stopTimeout) {
		s.logger.Warn("tail did not exit, killing", "run", r.id, "pid", r.proc.Pid())
		if err := r.proc.Kill(); err != nil {
			s.logger.Warn("kill failed", "run", r.id, "error", err)
		}
		if !waitDone(r.done, s.stopTimeout) {
			// Output still held open by a descendant; stop consuming it.
			r.detached.Store(true)
			s.logger.Error("tail output still open after kill, detaching", "run", r.id)
		}
	}

	s.ioMu.Lock()
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("closing segment", "error", err)
	}
	s.lastSegment = s.writer.LastPath()
	s.ioMu.Unlock()

	s.buffer.Reset()
	s.run = nil
	s.logger.Info("stream stopped", "run", r.id, "segment", s.lastSegment)
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// pump reads both output streams into r.chunks and consumes them in
// arrival order. When the subprocess ends on its own the session goes idle.
func (s *Session) pump(r *run) {
	var wg sync.WaitGroup
	wg.Add(2)
	go s.readStream(r, models.StreamStdout, r.proc.Stdout(), &wg)
	go s.readStream(r, models.StreamStderr, r.proc.Stderr(), &wg)
	go func() {
		wg.Wait()
		close(r.chunks)
	}()

	writeFailed := false
	for c := range r.chunks {
		s.ioMu.Lock()
		if !r.detached.Load() {
			s.buffer.Append(c.Stream, c.Text, c.ReceivedAt)
			if r.persisting {
				if _, err := s.writer.WriteString(c.Text); err != nil && !writeFailed {
					writeFailed = true
					s.logger.Error("writing segment failed, continuing buffer-only", "run", r.id, "error", err)
				}
			}
		}
		s.ioMu.Unlock()
	}

	err := r.proc.Wait()
	close(r.done)
	s.handleExit(r, err)
}

func (s *Session) readStream(r *run, stream models.StreamName, src io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	if src == nil {
		return
	}
	br := bufio.NewReaderSize(src, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if stream == models.StreamStderr {
				r.lastStderr.Store(line)
			}
			r.chunks <- models.Chunk{Stream: stream, Text: line, ReceivedAt: time.Now()}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("reading tail output", "run", r.id, "stream", stream, "error", err)
			}
			return
		}
	}
}

// handleExit clears the session if r is still the current run, i.e. the
// subprocess exited without a Stop.
func (s *Session) handleExit(r *run, exitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != r {
		return
	}
	s.ioMu.Lock()
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("closing segment", "error", err)
	}
	s.lastSegment = s.writer.LastPath()
	s.ioMu.Unlock()

	s.buffer.Reset()
	s.run = nil

	attrs := []any{"run", r.id, "segment", s.lastSegment}
	if exitErr != nil {
		attrs = append(attrs, "error", exitErr)
	}
	if last, ok := r.lastStderr.Load().(string); ok {
		attrs = append(attrs, "lastStderr", last)
	}
	s.logger.Warn("tail exited", attrs...)
}

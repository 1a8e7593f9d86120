// Package session runs recording sessions: it prepares the collaborators,
// drives the capture loop and flushes batches to the uploader.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/batch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/inference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

var log = logger.Module("Session")

const (
	readRetryDelay = 100 * time.Millisecond
	batchQueueSize = 8
)

// Uploader takes ownership of flushed batches. Send must not block.
type Uploader interface {
	Send(b types.Batch, sessionID, clipID string)
}

// Provisioner issues session ids.
type Provisioner interface {
	CreateSession(ctx context.Context, name, description string, uids ...string) (string, error)
}

// Options wires the controller to its collaborators.
type Options struct {
	Source      source.Source
	Engine      inference.Engine
	Encoder     encoder.Encoder
	Uploader    Uploader
	Provisioner Provisioner // optional when every Start carries an ID
	Threshold   int
	MaxAge      time.Duration
	Metrics     *metrics.Metrics
	NewClipID   func() string
}

// Controller is the recording state machine. One session runs at a time.
type Controller struct {
	opts Options
	m    *metrics.Metrics

	mu        sync.Mutex
	state     State
	info      Info
	lastError string
	run       *run

	elapsed atomic.Int64
	fps     atomic.Int64

	subMu sync.Mutex
	subs  map[chan Status]struct{}
}

// run is the per-session state. The accumulator lives and dies with it.
type run struct {
	clipID    string
	startedAt time.Time
	acc       *batch.Accumulator
	cancel    context.CancelFunc
	wg        sync.WaitGroup // capture loop + elapsed ticker

	// gate orders the stop flag against appends
	gate    sync.Mutex
	stopped bool

	batches      chan types.Batch
	dispatchDone chan struct{}

	processed atomic.Uint64
	dropped   atomic.Uint64
	flushed   atomic.Uint64
}

// New creates an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil || opts.Engine == nil || opts.Encoder == nil || opts.Uploader == nil {
		return nil, fmt.Errorf("session: source, engine, encoder and uploader are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.NewClipID == nil {
		opts.NewClipID = uuid.NewString
	}
	return &Controller{
		opts: opts,
		m:    opts.Metrics,
		subs: make(map[chan Status]struct{}),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.state = s
	c.m.SessionState.Store(uint64(s))
}

// Start prepares the collaborators and begins recording. It returns once the
// capture loop is running or preparation failed, in which case the
// controller is back in Idle.
func (c *Controller) Start(ctx context.Context, info Info) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.setState(Preparing)
	c.info = info
	c.lastError = ""
	c.mu.Unlock()

	c.elapsed.Store(0)
	c.fps.Store(0)
	c.m.ElapsedSeconds.Store(0)
	c.notify()

	sid, stream, err := c.prepare(ctx, info)
	if err != nil {
		log.Warn("Cannot start session %q: %v", info.Name, err)
		c.mu.Lock()
		c.setState(Idle)
		c.lastError = err.Error()
		c.mu.Unlock()
		c.notify()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		clipID:       c.opts.NewClipID(),
		startedAt:    time.Now(),
		acc:          batch.New(c.opts.Threshold, batch.WithMaxAge(c.opts.MaxAge)),
		cancel:       cancel,
		batches:      make(chan types.Batch, batchQueueSize),
		dispatchDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.info.ID = sid
	c.run = r
	c.setState(Active)
	c.mu.Unlock()

	go c.dispatch(r, sid)
	r.wg.Add(2)
	go c.captureLoop(loopCtx, r, stream)
	go c.tick(loopCtx, r)

	log.Info("Recording session %s clip %s (%q)", sid, r.clipID, info.Name)
	c.notify()
	return nil
}

// prepare authorizes the source, loads the engine and provisions the
// session concurrently, then opens a fresh stream.
func (c *Controller) prepare(ctx context.Context, info Info) (string, source.Stream, error) {
	sid := info.ID
	if sid == "" && c.opts.Provisioner == nil {
		return "", nil, fmt.Errorf("session id required: no provisioner configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.opts.Source.Authorize(gctx)
	})
	g.Go(func() error {
		return c.opts.Engine.Load(gctx)
	})
	if sid == "" {
		g.Go(func() error {
			id, err := c.opts.Provisioner.CreateSession(gctx, info.Name, info.Description)
			if err != nil {
				return err
			}
			sid = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	stream, err := c.opts.Source.Open(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("open frame source: %w", err)
	}
	return sid, stream, nil
}

// Stop halts the capture loop, flushes the final batch and returns to Idle.
// ctx bounds the wait for the capture loop; the final flush happens either way.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.setState(Stopping)
	r := c.run
	sid := c.info.ID
	c.mu.Unlock()
	c.notify()

	r.gate.Lock()
	r.stopped = true
	r.gate.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Capture loop did not exit in time, flushing anyway")
	}

	final := r.acc.Drain(true)
	r.batches <- final
	close(r.batches)
	<-r.dispatchDone

	log.Info("Session %s clip %s stopped after %ds: %d frames, %d batches",
		sid, r.clipID, c.elapsed.Load(), r.processed.Load(), r.flushed.Load())

	c.mu.Lock()
	c.run = nil
	c.setState(Idle)
	c.mu.Unlock()
	c.notify()
	return nil
}

// captureLoop pulls and processes one frame at a time until ctx is cancelled.
func (c *Controller) captureLoop(ctx context.Context, r *run, stream source.Stream) {
	defer r.wg.Done()
	defer stream.Close()

	var prior *types.PoseResult
	for ctx.Err() == nil {
		frame, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.m.ReadErrors.Add(1)
			log.Warn("Frame read error: %v", err)
			c.flushReady(r)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		prior = c.processFrame(ctx, r, frame, prior)
		c.flushReady(r)
	}
}

// processFrame runs inference, encoding and accumulation for one frame and
// returns the pose to use as prior for the next one. Errors stay here.
func (c *Controller) processFrame(ctx context.Context, r *run, frame *types.Frame, prior *types.PoseResult) *types.PoseResult {
	start := time.Now()
	defer frame.Release()
	c.m.FramesRead.Add(1)

	poses, err := c.opts.Engine.Estimate(ctx, frame, prior, frame.Timestamp)
	if err != nil {
		if ctx.Err() == nil {
			c.m.InferenceErrors.Add(1)
			r.dropped.Add(1)
			log.Debug("Inference failed on frame %d: %v", frame.Seq, err)
		}
		return nil
	}
	if len(poses) == 0 {
		c.m.FramesNoPose.Add(1)
		return nil
	}
	pose := best(poses)

	enc, err := c.opts.Encoder.Encode(frame)
	if err != nil {
		if errors.Is(err, encoder.ErrMalformedFrame) {
			c.m.FramesMalformed.Add(1)
		}
		r.dropped.Add(1)
		log.Warn("Dropping frame %d: %v", frame.Seq, err)
		return prior
	}

	if !c.accumulate(r, pose, enc) {
		return nil
	}

	latency := time.Since(start)
	c.fps.Store(FPS(latency))
	c.m.CurrentFPS.Store(uint64(c.fps.Load()))
	c.m.UpdateProcessLatency(latency)
	return &pose
}

// accumulate appends the pair unless stop was requested, and flushes a
// ready batch to the dispatcher.
func (c *Controller) accumulate(r *run, pose types.PoseResult, enc types.EncodedFrame) bool {
	r.gate.Lock()
	defer r.gate.Unlock()
	if r.stopped {
		return false
	}

	if err := r.acc.Append(pose, enc); err != nil {
		r.dropped.Add(1)
		log.Warn("Dropping pair: %v", err)
		return false
	}
	r.processed.Add(1)
	c.m.FramesProcessed.Add(1)

	c.flushLocked(r)
	return true
}

// flushReady hands a ready batch to the dispatcher. It runs after every
// capture iteration and on the elapsed tick, so max age also fires while no
// frame yields a pose.
func (c *Controller) flushReady(r *run) {
	r.gate.Lock()
	defer r.gate.Unlock()
	if r.stopped {
		return
	}
	c.flushLocked(r)
}

// flushLocked requires r.gate.
func (c *Controller) flushLocked(r *run) {
	if !r.acc.IsReady() {
		return
	}
	b := r.acc.Drain(false)
	select {
	case r.batches <- b:
	default:
		c.m.BatchesDropped.Add(1)
		log.Warn("Batch queue full, dropping batch #%d (%d poses)", b.Seq, b.Len())
	}
}

// dispatch hands batches to the uploader in flush order.
func (c *Controller) dispatch(r *run, sid string) {
	defer close(r.dispatchDone)
	for b := range r.batches {
		c.m.BatchesFlushed.Add(1)
		r.flushed.Add(1)
		c.opts.Uploader.Send(b, sid, r.clipID)
	}
}

// tick advances the elapsed counter once per second while active.
func (c *Controller) tick(ctx context.Context, r *run) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.elapsed.Add(1)
			c.m.ElapsedSeconds.Store(uint64(n))
			c.flushReady(r)
			c.notify()
		}
	}
}

// best returns the highest scoring pose.
func best(poses []types.PoseResult) types.PoseResult {
	b := poses[0]
	for _, p := range poses[1:] {
		if p.Score > b.Score {
			b = p
		}
	}
	return b
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:          c.state,
		SessionID:      c.info.ID,
		Name:           c.info.Name,
		ElapsedSeconds: c.elapsed.Load(),
		FPS:            c.fps.Load(),
		LastError:      c.lastError,
	}
	if c.state == Idle {
		st.SessionID, st.Name = "", ""
	}
	if r := c.run; r != nil {
		started := r.startedAt
		st.ClipID = r.clipID
		st.StartedAt = &started
		st.FramesProcessed = r.processed.Load()
		st.FramesDropped = r.dropped.Load()
		st.BatchesFlushed = r.flushed.Load()
	}
	return st
}

// Subscribe returns a channel receiving a Status on every state change and
// once per second while active. Slow subscribers miss updates.
func (c *Controller) Subscribe() chan Status {
	ch := make(chan Status, 4)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (c *Controller) Unsubscribe(ch chan Status) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

func (c *Controller) notify() {
	st := c.Status()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

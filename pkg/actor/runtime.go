package actor

import (
	"fmt"
	"sync"
	"time"

	"github.com/pixperk/resmux/pkg/metrics"
	"github.com/pixperk/resmux/pkg/storage"
	"github.com/pixperk/resmux/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	// signals processed before the runtime hints that a checkpoint is due
	DefaultCheckpointThreshold = 8192

	// conservative fallback for actors that see little traffic
	DefaultCheckpointInterval = 12 * time.Hour

	DefaultMailboxSize = 1024
)

type Config struct {
	CheckpointThreshold int           // checkpoint after this many signals (0 = default)
	CheckpointInterval  time.Duration // fallback timer (0 = default)
	MailboxSize         int           // per-actor mailbox capacity (0 = default)
	Store               storage.CheckpointStore
	Logger              *logrus.Entry
}

// Runtime hosts actors and routes signals between them.
//
// Each actor runs a single goroutine that drains its mailbox in order, so
// handlers of one actor never interleave with each other. Concurrency across
// actors happens only through signals, never shared memory.
//
// The runtime also keeps lightweight inboxes for non-actor parties (see
// Subscribe) so an actor can address a reply back to a waiting requester.
type Runtime struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex
	actors  map[string]*handle
	inboxes map[string]chan types.Signal
	closed  bool
	wg      sync.WaitGroup
}

type handle struct {
	id      string
	mailbox chan types.Signal
	queries chan queryReq
	stop    chan struct{}
	done    chan struct{}
}

type queryReq struct {
	req  any
	resp chan queryResp
}

type queryResp struct {
	result any
	err    error
}

func NewRuntime(cfg Config) *Runtime {
	if cfg.CheckpointThreshold <= 0 {
		cfg.CheckpointThreshold = DefaultCheckpointThreshold
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Runtime{
		cfg:     cfg,
		log:     log,
		actors:  make(map[string]*handle),
		inboxes: make(map[string]chan types.Signal),
	}
}

// StartIfAbsent starts the actor under id unless it is already running, in
// which case it is a no-op and the initial signals are NOT delivered.
//
// On a cold start the latest checkpoint (if any) is restored through the
// factory and the initial signals are enqueued before the loop runs, so a
// request sent along with the start can never be lost.
//
// Returns true if this call actually started the actor.
func (r *Runtime) StartIfAbsent(id string, factory Factory, initial ...types.Signal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, types.ErrRuntimeClosed
	}
	if _, running := r.actors[id]; running {
		return false, nil
	}

	var snapshot []byte
	if r.cfg.Store != nil {
		data, err := r.cfg.Store.Load(id)
		if err != nil {
			return false, fmt.Errorf("load checkpoint for %q: %w", id, err)
		}
		snapshot = data
	}

	a, err := factory(snapshot)
	if err != nil {
		return false, fmt.Errorf("build actor %q: %w", id, err)
	}

	h := &handle{
		id:      id,
		mailbox: make(chan types.Signal, r.cfg.MailboxSize),
		queries: make(chan queryReq),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	// enqueue before the loop starts so the cold-start messages go first
	for _, sig := range initial {
		h.mailbox <- sig
	}

	r.actors[id] = h
	r.wg.Add(1)
	go r.run(h, a, factory)

	if snapshot != nil {
		r.log.WithField("actor", id).Info("actor resumed from checkpoint")
	}
	return true, nil
}

// Signal delivers sig to the actor or inbox registered under target.
// Delivery to a given actor is FIFO with respect to other Signal calls that
// completed earlier.
func (r *Runtime) Signal(target string, sig types.Signal) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return types.ErrRuntimeClosed
	}
	if h, ok := r.actors[target]; ok {
		r.mu.Unlock()
		select {
		case h.mailbox <- sig:
			return nil
		case <-h.done:
			return types.ErrRuntimeClosed
		}
	}
	if inbox, ok := r.inboxes[target]; ok {
		r.mu.Unlock()
		select {
		case inbox <- sig:
		default:
			r.log.WithField("target", target).Warn("inbox full, dropping signal")
		}
		return nil
	}
	r.mu.Unlock()
	return fmt.Errorf("%w: %q", types.ErrUnknownTarget, target)
}

// Query runs a read-only query on the actor's own loop, so it never observes
// a half-applied handler.
func (r *Runtime) Query(target string, req any) (any, error) {
	r.mu.Lock()
	h, ok := r.actors[target]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownTarget, target)
	}

	q := queryReq{req: req, resp: make(chan queryResp, 1)}
	select {
	case h.queries <- q:
	case <-h.done:
		return nil, types.ErrRuntimeClosed
	}
	resp := <-q.resp
	return resp.result, resp.err
}

// Subscribe registers a signal inbox under id and returns the receive side
// plus a cancel func. Used by callers that are not actors themselves but
// still need a reply addressed to them.
func (r *Runtime) Subscribe(id string) (<-chan types.Signal, func()) {
	ch := make(chan types.Signal, 4)

	r.mu.Lock()
	r.inboxes[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.inboxes, id)
		r.mu.Unlock()
	}
	return ch, cancel
}

// Stop shuts one actor down, taking a final checkpoint first.
func (r *Runtime) Stop(id string) {
	r.mu.Lock()
	h, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	close(h.stop)
	<-h.done
}

// Shutdown stops every actor and refuses further traffic.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*handle, 0, len(r.actors))
	for id, h := range r.actors {
		handles = append(handles, h)
		delete(r.actors, id)
	}
	r.mu.Unlock()

	for _, h := range handles {
		close(h.stop)
	}
	r.wg.Wait()
}

// per-actor lifecycle loop: drain the mailbox in order until the checkpoint
// hint fires (threshold of processed signals) or the fallback timer elapses,
// then snapshot, persist, and rebuild the actor from its own snapshot. The
// swap happens between messages, so nothing is processed twice or dropped.
func (r *Runtime) run(h *handle, a Actor, factory Factory) {
	defer r.wg.Done()
	defer close(h.done)

	log := r.log.WithField("actor", h.id)
	ctx := NewContext(r, h.id)

	processed := 0
	timer := time.NewTimer(r.cfg.CheckpointInterval)
	defer timer.Stop()

	for {
		select {
		case sig := <-h.mailbox:
			if err := a.Receive(ctx, sig); err != nil {
				log.WithError(err).WithField("signal", fmt.Sprintf("%T", sig)).Warn("signal handler failed")
			}
			processed++
			if processed >= r.cfg.CheckpointThreshold {
				if next, err := r.checkpoint(h.id, a, factory, log); err != nil {
					log.WithError(err).Error("checkpoint failed, continuing with live state")
				} else {
					a = next
					processed = 0
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(r.cfg.CheckpointInterval)
				}
			}

		case q := <-h.queries:
			result, err := a.Query(q.req)
			q.resp <- queryResp{result: result, err: err}

		case <-timer.C:
			if next, err := r.checkpoint(h.id, a, factory, log); err != nil {
				log.WithError(err).Error("checkpoint failed, continuing with live state")
			} else {
				a = next
				processed = 0
			}
			timer.Reset(r.cfg.CheckpointInterval)

		case <-h.stop:
			// persist whatever we have so the next start resumes from here
			if _, err := r.checkpoint(h.id, a, factory, log); err != nil {
				log.WithError(err).Error("final checkpoint failed")
			}
			return
		}
	}
}

func (r *Runtime) checkpoint(id string, a Actor, factory Factory, log *logrus.Entry) (Actor, error) {
	snapshot, err := a.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if r.cfg.Store != nil {
		if err := r.cfg.Store.Save(id, snapshot); err != nil {
			return nil, fmt.Errorf("persist snapshot: %w", err)
		}
	}
	next, err := factory(snapshot)
	if err != nil {
		return nil, fmt.Errorf("restart from snapshot: %w", err)
	}

	metrics.CheckpointsTotal.Inc()
	log.WithField("bytes", len(snapshot)).Info("checkpointed and restarted actor")
	return next, nil
}

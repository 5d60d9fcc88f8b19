package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixperk/resmux/pkg/actor"
	"github.com/pixperk/resmux/pkg/coordinator"
	"github.com/pixperk/resmux/pkg/metrics"
	"github.com/pixperk/resmux/pkg/types"
	"github.com/sirupsen/logrus"
)

type Config struct {
	RequesterID   string // defaults to a fresh uuid
	CoordinatorID string // defaults to coordinator.ActorID
	Logger        *logrus.Entry
}

// Client is the acquisition side of the protocol. It runs inside the calling
// task, requests a resource from the coordinator, blocks until granted (or
// the wait budget runs out) and hands the caller a releasable handle.
type Client struct {
	runtime *actor.Runtime
	factory actor.Factory

	id      string
	coordID string
	log     *logrus.Entry
}

func New(runtime *actor.Runtime, cfg Config) *Client {
	if cfg.RequesterID == "" {
		cfg.RequesterID = uuid.NewString()
	}
	if cfg.CoordinatorID == "" {
		cfg.CoordinatorID = coordinator.ActorID
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		runtime: runtime,
		factory: coordinator.Factory(log),
		id:      cfg.RequesterID,
		coordID: cfg.CoordinatorID,
		log:     log.WithField("requester", cfg.RequesterID),
	}
}

func (c *Client) RequesterID() string {
	return c.id
}

// send delivers sig to the coordinator, starting it first if needed. On a
// cold start the signal rides along with the start itself, so even the very
// first request cannot race the startup and get lost.
func (c *Client) send(sig types.Signal) error {
	started, err := c.runtime.StartIfAbsent(c.coordID, c.factory, sig)
	if err != nil {
		return fmt.Errorf("ensure coordinator: %w", err)
	}
	if started {
		return nil
	}
	return c.runtime.Signal(c.coordID, sig)
}

// Acquire obtains exclusive ownership of one resource.
//
// When already is non-nil no negotiation happens at all: the handle wraps the
// existing grant. This is how a task that is itself about to checkpoint and
// restart keeps its resource across the boundary without re-queueing.
//
// Otherwise the client registers a one-shot inbox under its requester id,
// sends the acquire signal and blocks until the assign signal arrives,
// maxWait elapses or ctx is done. On timeout the caller gets
// types.ErrAcquireTimeout; the waiter entry stays queued on the coordinator,
// so a grant issued after this point is silently wasted (no cancellation
// message exists in the protocol).
func (c *Client) Acquire(ctx context.Context, already *types.AcquiredResource, maxWait time.Duration) (*Resource, error) {
	if already != nil {
		return &Resource{client: c, held: *already}, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		// a forced termination while holding a resource skips the release
		// path and leaks the resource forever - there is no lease or expiry
		// to reclaim it
		c.log.WithField("deadline", deadline).Warn(
			"caller has a bounded deadline while acquiring; a non-graceful exit would leak the resource permanently")
	}

	inbox, cancel := c.runtime.Subscribe(c.id)
	defer cancel()

	if err := c.send(types.AcquireSignal{RequesterID: c.id}); err != nil {
		return nil, err
	}

	start := time.Now()
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		select {
		case sig := <-inbox:
			assign, ok := sig.(types.AssignSignal)
			if !ok {
				c.log.WithField("signal", fmt.Sprintf("%T", sig)).Warn("unexpected signal while waiting for grant, ignoring")
				continue
			}
			metrics.AcquireWaitDuration.Observe(time.Since(start).Seconds())
			return &Resource{
				client: c,
				held: types.AcquiredResource{
					ResourceName: assign.ResourceName,
					ReleaseToken: assign.ReleaseToken,
					AutoRelease:  true,
				},
			}, nil

		case <-timer.C:
			metrics.AcquireTimeoutTotal.Inc()
			return nil, types.ErrAcquireTimeout

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Do runs fn as a critical section over one resource. The resource is
// released on every exit path - normal return, fn error, even a panic in fn -
// as long as its AutoRelease flag is still set.
func (c *Client) Do(ctx context.Context, already *types.AcquiredResource, maxWait time.Duration, fn func(ctx context.Context, res *Resource) error) error {
	res, err := c.Acquire(ctx, already, maxWait)
	if err != nil {
		return err
	}

	defer func() {
		if !res.held.AutoRelease {
			return
		}
		if rerr := res.Release(ctx); rerr != nil {
			c.log.WithError(rerr).WithField("resource", res.Name()).Warn("release failed, resource may be leaked")
		}
	}()

	return fn(ctx, res)
}

// AddResources registers named resources with the coordinator, starting it
// if this is the first traffic it ever sees.
func (c *Client) AddResources(ctx context.Context, names ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(types.AddResourcesSignal{Names: names})
}

// Holders returns the current resource -> holder map; free resources map to
// the empty string.
func (c *Client) Holders(ctx context.Context) (map[string]string, error) {
	if err := c.ensureCoordinator(); err != nil {
		return nil, err
	}
	result, err := c.runtime.Query(c.coordID, types.HoldersQuery{})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

// Stats returns pool, held and waiter counts.
func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	if err := c.ensureCoordinator(); err != nil {
		return types.Stats{}, err
	}
	result, err := c.runtime.Query(c.coordID, types.StatsQuery{})
	if err != nil {
		return types.Stats{}, err
	}
	return result.(types.Stats), nil
}

func (c *Client) ensureCoordinator() error {
	_, err := c.runtime.StartIfAbsent(c.coordID, c.factory)
	return err
}

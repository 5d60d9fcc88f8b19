package coordinator

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pixperk/resmux/pkg/actor"
	"github.com/pixperk/resmux/pkg/metrics"
	"github.com/pixperk/resmux/pkg/types"
	"github.com/sirupsen/logrus"
)

// well-known id the singleton coordinator runs under
// callers pass it to Runtime.StartIfAbsent rather than relying on globals
const ActorID = "resmux-coordinator"

// Coordinator owns the resource pool and the waiter queue.
//
// It runs as a single actor, so handlers execute one at a time in mailbox
// order and no internal locking is needed. Fairness across requesters falls
// out of that total order: waiters are granted strictly in arrival order.
//
// critical :
// - at most one holder per resource at any time
// - release tokens are minted once at grant time and consumed exactly once
// - a resource is never observably free while the waiter queue is non-empty
type Coordinator struct {
	resources map[string]string // resource name -> holder requester id ("" = free)
	tokens    map[string]string // release token -> resource name
	waiters   []string          // requester ids in arrival order

	log *logrus.Entry
}

func New(log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		resources: make(map[string]string),
		tokens:    make(map[string]string),
		log:       log.WithField("actor", ActorID),
	}
}

// Factory builds the coordinator for the actor runtime, restoring the pool
// and waiter queue from a checkpoint when one is supplied.
func Factory(log *logrus.Entry) actor.Factory {
	return func(snapshot []byte) (actor.Actor, error) {
		c := New(log)
		if len(snapshot) > 0 {
			if err := c.restore(snapshot); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
}

// applies one signal to the pool and returns the result of the transition
func (c *Coordinator) Receive(ctx *actor.Context, sig types.Signal) error {
	defer c.observe()

	switch s := sig.(type) {
	case types.AddResourcesSignal:
		return c.applyAddResources(ctx, s)
	case types.AcquireSignal:
		return c.applyAcquire(ctx, s)
	case types.ReleaseSignal:
		return c.applyRelease(ctx, s)
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownSignal, sig)
	}
}

func (c *Coordinator) applyAddResources(ctx *actor.Context, sig types.AddResourcesSignal) error {
	for _, name := range sig.Names {
		if _, present := c.resources[name]; present {
			// idempotent per name: already pooled, not an error
			c.log.WithField("resource", name).Info("resource already in pool, ignoring")
			continue
		}

		// a brand-new resource goes straight to the front waiter if anyone
		// is queued; it must never sit free next to a non-empty queue
		if len(c.waiters) > 0 {
			c.grant(ctx, name, c.popWaiter())
			continue
		}

		c.resources[name] = ""
		c.log.WithField("resource", name).Info("resource added to pool")
	}
	return nil
}

func (c *Coordinator) applyAcquire(ctx *actor.Context, sig types.AcquireSignal) error {
	// first free resource wins; which one is deliberately unspecified
	for name, holder := range c.resources {
		if holder == "" {
			c.grant(ctx, name, sig.RequesterID)
			return nil
		}
	}

	c.waiters = append(c.waiters, sig.RequesterID)
	c.log.WithFields(logrus.Fields{
		"requester": sig.RequesterID,
		"queued":    len(c.waiters),
	}).Info("no free resource, requester queued")
	return nil
}

func (c *Coordinator) applyRelease(ctx *actor.Context, sig types.ReleaseSignal) error {
	name, ok := c.tokens[sig.ReleaseToken]
	if !ok {
		// already consumed or never valid; releases are idempotent
		c.log.WithField("token", sig.ReleaseToken).Warn("release for unknown token, ignoring")
		metrics.ReleaseTotal.WithLabelValues("unknown_token").Inc()
		return nil
	}

	delete(c.tokens, sig.ReleaseToken)
	metrics.ReleaseTotal.WithLabelValues("released").Inc()

	// direct hand-off: the resource never becomes observably free while
	// someone is queued
	if len(c.waiters) > 0 {
		c.grant(ctx, name, c.popWaiter())
		return nil
	}

	c.resources[name] = ""
	c.log.WithField("resource", name).Info("resource released")
	return nil
}

// grant marks the resource held, mints a one-time release token and sends the
// assign signal back to the requester.
func (c *Coordinator) grant(ctx *actor.Context, name, requester string) {
	token := uuid.NewString()
	c.resources[name] = requester
	c.tokens[token] = name
	metrics.GrantTotal.Inc()

	c.log.WithFields(logrus.Fields{
		"resource":  name,
		"requester": requester,
	}).Info("resource granted")

	if err := ctx.Signal(requester, types.AssignSignal{ResourceName: name, ReleaseToken: token}); err != nil {
		// the requester stopped listening (e.g. it timed out earlier); the
		// resource stays held and only a manual release of this token can
		// recover it - there is no lease reclamation
		c.log.WithError(err).WithFields(logrus.Fields{
			"resource":  name,
			"requester": requester,
		}).Warn("assign delivery failed, resource stays held")
	}
}

func (c *Coordinator) popWaiter() string {
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	return next
}

// answers read-only queries without touching pool state
func (c *Coordinator) Query(req any) (any, error) {
	switch req.(type) {
	case types.HoldersQuery:
		holders := make(map[string]string, len(c.resources))
		for name, holder := range c.resources {
			holders[name] = holder
		}
		return holders, nil

	case types.StatsQuery:
		return types.Stats{
			Resources: len(c.resources),
			Held:      len(c.tokens),
			Waiters:   len(c.waiters),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownQuery, req)
	}
}

func (c *Coordinator) observe() {
	metrics.ResourcesTotal.Set(float64(len(c.resources)))
	metrics.ResourcesHeld.Set(float64(len(c.tokens)))
	metrics.WaitersQueued.Set(float64(len(c.waiters)))
}

package actor

import "github.com/pixperk/resmux/pkg/types"

// a single-threaded, message-driven unit of state addressed by a stable id
// Receive and Query are only ever called from the actor's own loop, so
// implementations need no internal locking
type Actor interface {
	// handles one signal; signals arrive in send order
	Receive(ctx *Context, sig types.Signal) error

	// answers a read-only query; must not mutate state
	Query(req any) (any, error)

	// serializes the actor's entire state for a checkpoint
	Snapshot() ([]byte, error)
}

// builds an actor, optionally restoring it from a checkpoint
// snapshot is nil on a cold start
type Factory func(snapshot []byte) (Actor, error)

// anything that can deliver a signal to a named target
type Signaler interface {
	Signal(target string, sig types.Signal) error
}

// handler-side view of the runtime, handed to Receive
type Context struct {
	signaler Signaler
	actorID  string
}

func NewContext(s Signaler, actorID string) *Context {
	return &Context{signaler: s, actorID: actorID}
}

// id of the actor currently processing the signal
func (c *Context) ActorID() string {
	return c.actorID
}

// sends a signal to another actor or inbox
func (c *Context) Signal(target string, sig types.Signal) error {
	return c.signaler.Signal(target, sig)
}

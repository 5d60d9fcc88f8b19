package types

// type of coordinator signal
type SignalType uint

const (
	SignalTypeAddResources SignalType = iota + 1
	SignalTypeAcquire
	SignalTypeAssign
	SignalTypeRelease
)

// interface all coordinator signals implement
// signals are delivered to an actor's mailbox in send order and
// processed one at a time, never interleaved
type Signal interface {
	Type() SignalType
}

// adds named resources to the pool (idempotent per name)
type AddResourcesSignal struct {
	Names []string
}

func (s AddResourcesSignal) Type() SignalType { return SignalTypeAddResources }

// requests exclusive ownership of any free resource
// the reply arrives later as an AssignSignal addressed to RequesterID
type AcquireSignal struct {
	RequesterID string
}

func (s AcquireSignal) Type() SignalType { return SignalTypeAcquire }

// grants a resource to a requester
// ReleaseToken is minted fresh at grant time and authorizes exactly one release
type AssignSignal struct {
	ResourceName string
	ReleaseToken string
}

func (s AssignSignal) Type() SignalType { return SignalTypeAssign }

// gives a held resource back, routed by token rather than by name
type ReleaseSignal struct {
	ReleaseToken string
}

func (s ReleaseSignal) Type() SignalType { return SignalTypeRelease }

// read-only query for the current resource -> holder map
// a free resource maps to the empty string
type HoldersQuery struct{}

// read-only query for coordinator counters
type StatsQuery struct{}

// answer to a StatsQuery
type Stats struct {
	Resources int // total resources in the pool
	Held      int // resources currently granted out
	Waiters   int // requesters queued for a grant
}

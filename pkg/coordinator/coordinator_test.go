package coordinator

import (
	"fmt"
	"testing"

	"github.com/pixperk/resmux/pkg/actor"
	"github.com/pixperk/resmux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentSignal struct {
	target string
	sig    types.Signal
}

// records outgoing signals; targets in fail pretend to have stopped listening
type sigRecorder struct {
	sent []sentSignal
	fail map[string]bool
}

func (r *sigRecorder) Signal(target string, sig types.Signal) error {
	if r.fail[target] {
		return types.ErrUnknownTarget
	}
	r.sent = append(r.sent, sentSignal{target: target, sig: sig})
	return nil
}

func (r *sigRecorder) assigns() []sentSignal {
	var out []sentSignal
	for _, s := range r.sent {
		if _, ok := s.sig.(types.AssignSignal); ok {
			out = append(out, s)
		}
	}
	return out
}

func newTestCoordinator() (*Coordinator, *sigRecorder, *actor.Context) {
	rec := &sigRecorder{fail: make(map[string]bool)}
	c := New(nil)
	return c, rec, actor.NewContext(rec, ActorID)
}

func holders(t *testing.T, c *Coordinator) map[string]string {
	t.Helper()
	result, err := c.Query(types.HoldersQuery{})
	require.NoError(t, err)
	return result.(map[string]string)
}

func stats(t *testing.T, c *Coordinator) types.Stats {
	t.Helper()
	result, err := c.Query(types.StatsQuery{})
	require.NoError(t, err)
	return result.(types.Stats)
}

// TestAddResourcesIdempotent tests that re-adding a name is a logged no-op
func TestAddResourcesIdempotent(t *testing.T) {
	c, _, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a", "b"}}))
	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))

	s := stats(t, c)
	assert.Equal(t, 2, s.Resources)
	assert.Equal(t, 0, s.Held)
}

// TestImmediateGrant tests that a free resource is granted on the spot
func TestImmediateGrant(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))

	assigns := rec.assigns()
	require.Len(t, assigns, 1)
	assert.Equal(t, "w1", assigns[0].target)

	assign := assigns[0].sig.(types.AssignSignal)
	assert.Equal(t, "a", assign.ResourceName)
	assert.NotEmpty(t, assign.ReleaseToken)

	assert.Equal(t, "w1", holders(t, c)["a"])
}

// TestPoolOfTwoWithThreeRequesters walks the two-resource scenario end to end:
// first two requesters get granted, the third queues, and releasing the first
// grant hands its resource to the third.
func TestPoolOfTwoWithThreeRequesters(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a", "b"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w2"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w3"}))

	// w1 and w2 each hold one of {a, b}; exact pairing is unspecified
	assigns := rec.assigns()
	require.Len(t, assigns, 2)
	assert.Equal(t, "w1", assigns[0].target)
	assert.Equal(t, "w2", assigns[1].target)

	granted := map[string]bool{
		assigns[0].sig.(types.AssignSignal).ResourceName: true,
		assigns[1].sig.(types.AssignSignal).ResourceName: true,
	}
	assert.True(t, granted["a"] && granted["b"], "both resources should be granted out")

	s := stats(t, c)
	assert.Equal(t, 2, s.Held)
	assert.Equal(t, 1, s.Waiters)

	// releasing w1's grant hands that exact resource to w3
	w1Assign := assigns[0].sig.(types.AssignSignal)
	require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: w1Assign.ReleaseToken}))

	assigns = rec.assigns()
	require.Len(t, assigns, 3)
	assert.Equal(t, "w3", assigns[2].target)
	assert.Equal(t, w1Assign.ResourceName, assigns[2].sig.(types.AssignSignal).ResourceName)

	s = stats(t, c)
	assert.Equal(t, 2, s.Held)
	assert.Equal(t, 0, s.Waiters)
}

// TestFIFOFairness tests that queued requesters are granted strictly in
// arrival order as the single resource cycles
func TestFIFOFairness(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"only"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "holder"}))

	waiters := []string{"w1", "w2", "w3", "w4"}
	for _, w := range waiters {
		require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: w}))
	}
	assert.Equal(t, len(waiters), stats(t, c).Waiters)

	// cycle the resource through every waiter
	for i := 0; i < len(waiters); i++ {
		assigns := rec.assigns()
		last := assigns[len(assigns)-1].sig.(types.AssignSignal)
		require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: last.ReleaseToken}))
	}

	var order []string
	for _, s := range rec.assigns()[1:] {
		order = append(order, s.target)
	}
	assert.Equal(t, waiters, order, "grants must follow arrival order")
}

// TestReleaseUnknownTokenIdempotent tests that a bad release leaves state untouched
func TestReleaseUnknownTokenIdempotent(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))

	before := holders(t, c)
	assignsBefore := len(rec.assigns())

	require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: "never-issued"}))

	assert.Equal(t, before, holders(t, c))
	assert.Equal(t, assignsBefore, len(rec.assigns()))
	assert.Equal(t, 1, stats(t, c).Held)
}

// TestReleaseTokenSingleUse tests that a consumed token cannot release twice
func TestReleaseTokenSingleUse(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))
	token := rec.assigns()[0].sig.(types.AssignSignal).ReleaseToken

	require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: token}))
	assert.Equal(t, 0, stats(t, c).Held)

	// second release of the same token is a no-op even after someone else
	// has the resource
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w2"}))
	require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: token}))
	assert.Equal(t, "w2", holders(t, c)["a"])
}

// TestDirectHandoffOnRelease tests that a released resource with a waiter
// queued is never observable as free
func TestDirectHandoffOnRelease(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w2"}))

	token := rec.assigns()[0].sig.(types.AssignSignal).ReleaseToken
	require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: token}))

	// the very next observable state already shows w2 as the holder
	assert.Equal(t, "w2", holders(t, c)["a"])
	assert.Equal(t, 0, stats(t, c).Waiters)
}

// TestAddGrantsToWaiters tests that a new resource goes straight to the
// front waiter instead of sitting free
func TestAddGrantsToWaiters(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w2"}))
	assert.Equal(t, 2, stats(t, c).Waiters)

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a", "b"}}))

	assigns := rec.assigns()
	require.Len(t, assigns, 2)
	assert.Equal(t, "w1", assigns[0].target)
	assert.Equal(t, "w2", assigns[1].target)
	assert.Equal(t, 0, stats(t, c).Waiters)
	assert.Equal(t, 2, stats(t, c).Held)
}

// TestAssignDeliveryFailureKeepsHeld tests the documented waste: a grant to a
// requester that stopped listening still consumes the resource
func TestAssignDeliveryFailureKeepsHeld(t *testing.T) {
	c, rec, ctx := newTestCoordinator()
	rec.fail["gone"] = true

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "gone"}))

	assert.Empty(t, rec.assigns())
	assert.Equal(t, "gone", holders(t, c)["a"])
	assert.Equal(t, 1, stats(t, c).Held)
}

// TestSnapshotRoundTrip tests that checkpoint state survives a restart verbatim
func TestSnapshotRoundTrip(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a", "b", "c"}}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w1"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w2"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w3"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w4"}))
	require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: "w5"}))

	data, err := c.Snapshot()
	require.NoError(t, err)

	restoredActor, err := Factory(nil)(data)
	require.NoError(t, err)
	restored := restoredActor.(*Coordinator)

	assert.Equal(t, c.resources, restored.resources)
	assert.Equal(t, c.tokens, restored.tokens)
	assert.Equal(t, c.waiters, restored.waiters)

	// the restored coordinator keeps working: release hands off to w4
	token := rec.assigns()[0].sig.(types.AssignSignal).ReleaseToken
	require.NoError(t, restored.Receive(ctx, types.ReleaseSignal{ReleaseToken: token}))

	last := rec.assigns()[len(rec.assigns())-1]
	assert.Equal(t, "w4", last.target)
}

// TestColdStartFactory tests that an empty snapshot produces a working empty pool
func TestColdStartFactory(t *testing.T) {
	a, err := Factory(nil)(nil)
	require.NoError(t, err)

	c := a.(*Coordinator)
	s := stats(t, c)
	assert.Equal(t, 0, s.Resources)
	assert.Equal(t, 0, s.Waiters)
}

// TestReleaseTokensUnique tests that every grant mints a distinct token
func TestReleaseTokensUnique(t *testing.T) {
	c, rec, ctx := newTestCoordinator()

	require.NoError(t, c.Receive(ctx, types.AddResourcesSignal{Names: []string{"a"}}))

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		requester := fmt.Sprintf("w%d", i)
		require.NoError(t, c.Receive(ctx, types.AcquireSignal{RequesterID: requester}))

		assigns := rec.assigns()
		token := assigns[len(assigns)-1].sig.(types.AssignSignal).ReleaseToken
		assert.False(t, seen[token], "token %s reused", token)
		seen[token] = true

		require.NoError(t, c.Receive(ctx, types.ReleaseSignal{ReleaseToken: token}))
	}
}

// TestUnknownSignalRejected tests dispatch of an unrecognized signal type
func TestUnknownSignalRejected(t *testing.T) {
	c, _, ctx := newTestCoordinator()

	err := c.Receive(ctx, types.AssignSignal{ResourceName: "a", ReleaseToken: "tok"})
	assert.ErrorIs(t, err, types.ErrUnknownSignal)
}

// TestUnknownQueryRejected tests dispatch of an unrecognized query type
func TestUnknownQueryRejected(t *testing.T) {
	c, _, _ := newTestCoordinator()

	_, err := c.Query("bogus")
	assert.ErrorIs(t, err, types.ErrUnknownQuery)
}

package client

import (
	"context"
	"fmt"

	"github.com/pixperk/resmux/pkg/types"
)

// Resource is a held grant. It is owned by exactly one calling task until
// released or explicitly handed off across the task's own restart boundary.
type Resource struct {
	client   *Client
	held     types.AcquiredResource
	released bool
}

func (r *Resource) Name() string {
	return r.held.ResourceName
}

// Release gives the resource back to the coordinator. Releasing twice is a
// local no-op; the token only works once anyway.
//
// A canceled ctx does not skip the send: release must happen on every exit
// path or the resource leaks permanently.
func (r *Resource) Release(ctx context.Context) error {
	if r.released {
		return nil
	}

	if err := r.client.send(types.ReleaseSignal{ReleaseToken: r.held.ReleaseToken}); err != nil {
		return fmt.Errorf("release %q: %w", r.held.ResourceName, err)
	}
	r.released = true
	return nil
}

// Handoff disarms auto-release and returns the raw grant so the calling task
// can carry it across its own checkpoint/restart and pass it back into
// Acquire afterwards. After Handoff the resource is NOT released on scope
// exit; the next incarnation owns it.
func (r *Resource) Handoff() types.AcquiredResource {
	r.held.AutoRelease = false
	return r.held
}

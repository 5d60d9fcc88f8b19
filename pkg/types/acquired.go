package types

// a granted resource as seen from the holding task
// the token is a one-time credential: it releases exactly this grant and is
// never reused
//
// AutoRelease controls the scoped-release path. Setting it to false is the
// only supported way to carry a held resource across the holder's own
// checkpoint/restart boundary without releasing and re-queueing: the holder
// hands the struct to its next incarnation and passes it back in on acquire.
type AcquiredResource struct {
	ResourceName string
	ReleaseToken string
	AutoRelease  bool
}

package storage

// CheckpointStore persists actor checkpoints so a restarted process resumes
// from the last snapshot instead of an empty state.
type CheckpointStore interface {
	// Save overwrites the checkpoint for actorID
	Save(actorID string, data []byte) error

	// Load returns the latest checkpoint, or nil when none exists
	Load(actorID string) ([]byte, error)

	Close() error
}

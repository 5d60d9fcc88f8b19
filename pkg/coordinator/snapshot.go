package coordinator

import "encoding/json"

// point-in-time snapshot of coordinator state
// this is the entire state; a checkpoint/restart must reproduce it verbatim
type snapshot struct {
	Resources map[string]string `json:"resources"`
	Tokens    map[string]string `json:"tokens"`
	Waiters   []string          `json:"waiters"`
}

// Snapshot serializes the pool, the outstanding tokens and the waiter queue.
func (c *Coordinator) Snapshot() ([]byte, error) {
	snap := snapshot{
		Resources: make(map[string]string, len(c.resources)),
		Tokens:    make(map[string]string, len(c.tokens)),
		Waiters:   make([]string, len(c.waiters)),
	}

	for name, holder := range c.resources {
		snap.Resources[name] = holder
	}
	for token, name := range c.tokens {
		snap.Tokens[token] = name
	}
	copy(snap.Waiters, c.waiters)

	return json.Marshal(snap)
}

func (c *Coordinator) restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.resources = snap.Resources
	c.tokens = snap.Tokens
	c.waiters = snap.Waiters

	if c.resources == nil {
		c.resources = make(map[string]string)
	}
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}

	c.observe()
	return nil
}

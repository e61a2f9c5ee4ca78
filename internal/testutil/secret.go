package testutil

import (
	"fmt"
	"sync"
)

// SequenceSecrets generates predictable one-time secrets:
// "<prefix>-0001", "<prefix>-0002", and so on.
//
// Use it wherever production code takes a secret generator so scenario
// traces stay byte-identical across runs.
type SequenceSecrets struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceSecrets returns a generator. An empty prefix means "secret".
func NewSequenceSecrets(prefix string) *SequenceSecrets {
	if prefix == "" {
		prefix = "secret"
	}
	return &SequenceSecrets{prefix: prefix}
}

// Generate returns the next secret.
func (g *SequenceSecrets) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

package blob

import (
	memorystore "energycore/internal/infra/blob/memory"
)

// NewMemory returns an in-memory Store for tests and one-shot imports.
func NewMemory() Store { return memorystore.New() }

package overlay

import "sync"

// SimOSDBackend records the regions it was last asked to program, for tests
// and for environments without a real OSD controller.
type SimOSDBackend struct {
	mu      sync.Mutex
	regions []OSDRegion
	calls   int
}

func NewSimOSDBackend() *SimOSDBackend { return &SimOSDBackend{} }

func (b *SimOSDBackend) SetRegions(regions []OSDRegion) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regions = regions
	b.calls++
	return nil
}

func (b *SimOSDBackend) Regions() []OSDRegion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regions
}

func (b *SimOSDBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

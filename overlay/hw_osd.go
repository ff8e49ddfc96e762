package overlay

import (
	"image/color"
	"sort"
	"sync"
	"time"

	"github.com/n0remac/netcam-core/detect"
)

// OSDRegion is one hardware overlay slot.
type OSDRegion struct {
	X, Y, W, H int
	Color      color.RGBA
}

// OSDBackend reprograms the fixed hardware overlay region table. No real
// vendor OSD controller is in scope; callers supply a backend the way
// servo/server.go's NewServer takes a *pca9685.ServoGroup — swappable for a
// simulated implementation in tests.
type OSDBackend interface {
	SetRegions(regions []OSDRegion) error
}

// HardwareOSDRenderer periodically reprograms a fixed number of hardware
// overlay regions from the latest detection set, available in both parallel
// and serial mode. It is grounded on servo/server.go's Move goroutine: a
// ticker reads shared state under a mutex and pushes it to the hardware on
// every tick, rather than synchronously on every Draw call — the hardware
// OSD has its own refresh cadence independent of the frame rate.
type HardwareOSDRenderer struct {
	backend    OSDBackend
	maxRegions int
	classColor ClassColor

	mu      sync.Mutex
	latest  []detect.Detection
	width   int
	height  int

	stop chan struct{}
	done chan struct{}
}

// NewHardwareOSDRenderer constructs a renderer that reprograms at most
// maxRegions hardware regions per tick.
func NewHardwareOSDRenderer(backend OSDBackend, maxRegions int) *HardwareOSDRenderer {
	return &HardwareOSDRenderer{
		backend:    backend,
		maxRegions: maxRegions,
		classColor: DefaultClassColor,
	}
}

// Update replaces the detection set used by the next tick. Called from the
// frame worker after decode+remap, never blocking on the ticker.
func (r *HardwareOSDRenderer) Update(detections []detect.Detection, width, height int) {
	r.mu.Lock()
	r.latest = detections
	r.width, r.height = width, height
	r.mu.Unlock()
}

// Start begins the periodic reprogram loop at the given period and returns
// immediately; call Stop to join it.
func (r *HardwareOSDRenderer) Start(period time.Duration) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()
}

// Stop halts the reprogram loop and waits for it to exit.
func (r *HardwareOSDRenderer) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func (r *HardwareOSDRenderer) tick() {
	r.mu.Lock()
	dets := r.latest
	r.mu.Unlock()

	regions := r.regionsFor(dets)
	_ = r.backend.SetRegions(regions)
}

// regionsFor converts detections to regions, discarding any beyond
// maxRegions in order of ascending confidence (i.e. keeping the
// highest-confidence detections).
func (r *HardwareOSDRenderer) regionsFor(dets []detect.Detection) []OSDRegion {
	sorted := make([]detect.Detection, len(dets))
	copy(sorted, dets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	if r.maxRegions > 0 && len(sorted) > r.maxRegions {
		sorted = sorted[:r.maxRegions]
	}

	regions := make([]OSDRegion, 0, len(sorted))
	for _, d := range sorted {
		regions = append(regions, OSDRegion{
			X:     int(d.Box.XMin),
			Y:     int(d.Box.YMin),
			W:     int(d.Box.XMax - d.Box.XMin),
			H:     int(d.Box.YMax - d.Box.YMin),
			Color: r.classColor(d.ClassID),
		})
	}
	return regions
}

package detect

import (
	"fmt"
	"sync"

	"github.com/n0remac/netcam-core/errs"
)

// State is one node of the DetectorRegistry cold-swap state machine.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateActive
	StateSwapping
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateSwapping:
		return "swapping"
	default:
		return "empty"
	}
}

// Factory constructs an unloaded Detector of a given kind; the registry
// calls it once per Load/Swap attempt so failed attempts don't leak partial
// state from a previous construction.
type Factory func() Detector

// Registry is the thread-safe current-detector cell described by spec
// component C5: states {Empty, Loading, Active, Swapping}, serialized by a
// single mutual-exclusion discipline held across the whole swap-vs-infer
// critical section — grounded on the original AIManager::SwitchModel's
// lock-reset-construct-init sequence, including its on-failure collapse to
// a no-op (Empty) engine rather than resurrecting the previous one.
type Registry struct {
	mu       sync.Mutex
	state    State
	current  Detector
	kind     Kind
	onResize func(w, h int) error
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{state: StateEmpty}
}

// SetResizeCallback installs the callback invoked after a successful load or
// swap whose new detector's input dimensions differ from the previous ones.
// Typically bound to the active Serial pipeline's VPSS-CHN1 reconfigure.
func (r *Registry) SetResizeCallback(fn func(w, h int) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResize = fn
}

// State reports the current node of the state machine.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Kind reports the currently active detector kind, or KindNone.
func (r *Registry) Kind() Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind
}

// InputSize reports the active detector's input tile size, or (0,0) if none
// is active.
func (r *Registry) InputSize() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return 0, 0
	}
	return r.current.InputSize()
}

// Load transitions Empty --load(k)--> Loading --ok--> Active(k), or
// Loading --err--> Empty on failure. Only valid from Empty.
func (r *Registry) Load(kind Kind, modelPath string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateEmpty {
		return fmt.Errorf("detect: load requires Empty state, have %s: %w", r.state, errs.ErrAlreadySwapping)
	}
	r.state = StateLoading
	d := factory()
	if err := d.Load(modelPath); err != nil {
		r.state = StateEmpty
		return err
	}
	return r.commit(kind, d, 0, 0)
}

// Swap transitions Active --swap(k')--> Swapping --load ok--> Active(k'),
// or Swapping --load err--> Empty. Only valid from Active. The previous
// detector is closed before the new one is constructed (reset-then-
// construct-then-init, matching AIManager::SwitchModel), so a failed swap
// leaves the registry genuinely empty rather than reverting to the old
// detector.
func (r *Registry) Swap(kind Kind, modelPath string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive {
		return fmt.Errorf("detect: swap requires Active state, have %s: %w", r.state, errs.ErrAlreadySwapping)
	}
	prev := r.current
	prevW, prevH := 0, 0
	r.state = StateSwapping
	r.current = nil
	if prev != nil {
		prevW, prevH = prev.InputSize()
		_ = prev.Close()
	}

	d := factory()
	if err := d.Load(modelPath); err != nil {
		r.state = StateEmpty
		r.kind = KindNone
		return err
	}
	return r.commit(kind, d, prevW, prevH)
}

// commit finishes a Load or Swap: installs the new detector as Active and,
// if its input size differs from prevW x prevH (the size of the detector
// that was active before, or 0x0 if none was), runs the resize callback. A
// callback failure unloads the detector and reports ErrResizeFailed, per
// spec §4.4.
func (r *Registry) commit(kind Kind, d Detector, prevW, prevH int) error {
	r.current = d
	r.kind = kind
	r.state = StateActive

	w, h := d.InputSize()
	if r.onResize != nil && (w != prevW || h != prevH) {
		if err := r.onResize(w, h); err != nil {
			_ = d.Close()
			r.current = nil
			r.kind = KindNone
			r.state = StateEmpty
			return fmt.Errorf("detect: resize callback for %dx%d: %w", w, h, errs.ErrResizeFailed)
		}
	}
	return nil
}

// Unload transitions Active --unload--> Empty.
func (r *Registry) Unload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		_ = r.current.Close()
	}
	r.current = nil
	r.kind = KindNone
	r.state = StateEmpty
	return nil
}

// Infer writes the letterboxed input tile via writeInput, runs inference,
// and decodes detections — all under the registry's mutex, so a concurrent
// Swap blocks until this call returns and an inference in flight blocks a
// concurrent Swap from proceeding past the critical section. Returns
// (nil, nil) when no detector is active; callers treat that as "skip
// overlay this frame". An active detector that finds nothing yields an
// empty, non-nil slice.
func (r *Registry) Infer(writeInput func(region []byte)) ([]Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive || r.current == nil {
		return nil, nil
	}
	writeInput(r.current.InputRegion())
	if err := r.current.Infer(); err != nil {
		return nil, err
	}
	dets, err := r.current.Decode()
	if err == nil && dets == nil {
		dets = []Detection{}
	}
	return dets, err
}

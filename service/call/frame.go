package call

import (
	"log"
	"sync"
)

// FrameRegistry tracks every live call frame in the process, standing
// in for the document the frames would be embedded in. The invariant is
// at most one live frame: Purge destroys everything currently
// registered, including orphans a failed teardown left behind, and is
// called before any new frame is constructed.
//
// Controllers sharing one surface must share one registry.
type FrameRegistry struct {
	mu     sync.Mutex
	frames map[Frame]struct{}
}

func NewFrameRegistry() *FrameRegistry {
	return &FrameRegistry{
		frames: make(map[Frame]struct{}),
	}
}

func (r *FrameRegistry) add(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[f] = struct{}{}
}

func (r *FrameRegistry) remove(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, f)
}

// Count reports the number of live frames.
func (r *FrameRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Purge forcibly destroys all registered frames. Teardown failures are
// logged and swallowed; purging must never fail or panic.
func (r *FrameRegistry) Purge() {
	r.mu.Lock()
	frames := make([]Frame, 0, len(r.frames))
	for f := range r.frames {
		frames = append(frames, f)
	}
	r.frames = make(map[Frame]struct{})
	r.mu.Unlock()

	for _, f := range frames {
		destroyQuietly(f)
	}
}

// destroyQuietly leaves and destroys a frame, absorbing every error and
// panic. Cleanup must never block navigation.
func destroyQuietly(f Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("call frame teardown panicked: %v", rec)
		}
	}()
	if err := f.Leave(); err != nil {
		log.Printf("call frame leave failed: %v", err)
	}
	if err := f.Destroy(); err != nil {
		log.Printf("call frame destroy failed: %v", err)
	}
}

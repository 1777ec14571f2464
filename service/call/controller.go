package call

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Snapshot is the view-model a UI renders: the session state plus the
// flags the page binds to.
type Snapshot struct {
	State          State  `json:"state"`
	RoomURL        string `json:"room_url,omitempty"`
	AudioOnly      bool   `json:"audio_only"`
	IsLoading      bool   `json:"is_loading"`
	IsInitializing bool   `json:"is_initializing"`
	IsCallStarted  bool   `json:"is_call_started"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// ControllerConfig wires a Controller to its collaborators.
type ControllerConfig struct {
	AppointmentID uint
	Role          Role
	Accessor      Accessor
	Provider      RoomProvider
	FrameFactory  FrameFactory
	Devices       MediaDevices

	// Frames is the registry for the surface this controller renders
	// into. Optional; a private registry is created when nil.
	Frames *FrameRegistry

	// OnChange observes every state transition. Optional.
	OnChange func(Snapshot)
}

// Controller drives one participant's call session from "appointment
// selected" to "call ended".
//
// States: Idle -> Loading -> AwaitingRoom -> Ready -> Initializing ->
// InCall -> Ending -> Idle. A patient without a meeting link parks in
// WaitingForHost until the realtime feed delivers one. Failures before
// a room URL is known land in Error (retryable via Start); failures
// while joining revert to Ready so the user can try again, except
// permission denial which is reported in Error and never retried
// automatically.
type Controller struct {
	cfg      ControllerConfig
	frames   *FrameRegistry
	onChange func(Snapshot)

	mu         sync.Mutex
	state      State
	appt       *Appointment
	roomURL    string
	audioOnly  bool
	errMsg     string
	frame      Frame
	closed     bool
	cancelFeed func()
}

func NewController(cfg ControllerConfig) *Controller {
	frames := cfg.Frames
	if frames == nil {
		frames = NewFrameRegistry()
	}
	return &Controller{
		cfg:      cfg,
		frames:   frames,
		onChange: cfg.OnChange,
		state:    StateIdle,
	}
}

// Start fetches the appointment and drives the session to Ready (or
// WaitingForHost for a patient with no link yet). Calling Start from
// Error retries the whole fetch.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateIdle && c.state != StateError {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", state)
	}
	c.state = StateLoading
	c.errMsg = ""

	// Subscribe before fetching so a link written between the fetch and
	// the subscription is not missed. Duplicate deliveries are merged
	// idempotently in applyMeetingLink.
	if c.cancelFeed == nil {
		ch, cancel := c.cfg.Accessor.Subscribe(c.cfg.AppointmentID)
		c.cancelFeed = cancel
		go c.watchFeed(ch)
	}
	c.mu.Unlock()
	c.notify()

	appt, err := c.cfg.Accessor.GetAppointmentByID(ctx, c.cfg.AppointmentID)
	if err != nil {
		c.setError("Could not load appointment details")
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.appt = appt
	c.audioOnly = appt.MeetingType == "audio"

	if c.roomURL == "" && appt.MeetingLink != "" {
		c.roomURL = appt.MeetingLink
	}
	if c.roomURL != "" {
		c.state = StateReady
		c.mu.Unlock()
		c.notify()
		return nil
	}

	c.state = StateAwaitingRoom
	c.mu.Unlock()
	c.notify()

	if c.cfg.Role == RoleMentor {
		return c.allocateRoom(ctx)
	}

	// Patient: strictly reactive. Wait for the mentor's write to arrive
	// on the change feed.
	c.mu.Lock()
	if !c.closed && c.roomURL == "" && c.state == StateAwaitingRoom {
		c.state = StateWaitingForHost
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// allocateRoom creates the provider room and persists its URL. Only the
// mentor role reaches here. If another client won the race, the stored
// link is reused and the extra room discarded.
func (c *Controller) allocateRoom(ctx context.Context) error {
	name := fmt.Sprintf("emotions-%d-%s", c.cfg.AppointmentID, uuid.New().String()[:8])

	c.mu.Lock()
	audioOnly := c.audioOnly
	c.mu.Unlock()

	room, err := c.cfg.Provider.CreateRoom(ctx, CreateRoomParams{
		Name:      name,
		Privacy:   "private",
		AudioOnly: audioOnly,
	})
	if err != nil {
		c.setError(roomFailureMessage(err))
		return err
	}

	if err := c.cfg.Accessor.SetMeetingLink(ctx, c.cfg.AppointmentID, room.URL); err != nil {
		if err == ErrLinkAlreadySet {
			// Another mount allocated first; reuse its link.
			if derr := c.cfg.Provider.DeleteRoom(ctx, room.Name); derr != nil {
				log.Printf("failed to discard duplicate room %s: %v", room.Name, derr)
			}
			stored, ferr := c.cfg.Accessor.GetAppointmentByID(ctx, c.cfg.AppointmentID)
			if ferr != nil {
				c.setError("Could not load appointment details")
				return ferr
			}
			c.applyMeetingLink(stored.MeetingLink)
			return nil
		}
		c.setError("Could not save the session link")
		return err
	}

	c.applyMeetingLink(room.URL)
	return nil
}

func (c *Controller) watchFeed(ch <-chan Appointment) {
	for appt := range ch {
		if appt.MeetingLink != "" {
			c.applyMeetingLink(appt.MeetingLink)
		}
	}
}

// applyMeetingLink merges a room URL no matter which path delivered it
// first. Re-applying the same URL is a no-op; a conflicting later value
// is ignored in favor of the first.
func (c *Controller) applyMeetingLink(url string) {
	if url == "" {
		return
	}
	c.mu.Lock()
	if c.closed || c.roomURL == url {
		c.mu.Unlock()
		return
	}
	if c.roomURL != "" {
		c.mu.Unlock()
		return
	}
	c.roomURL = url
	if c.state == StateAwaitingRoom || c.state == StateWaitingForHost || c.state == StateLoading {
		c.state = StateReady
	}
	c.mu.Unlock()
	c.notify()
}

// Join negotiates device access and brings up the call frame. Only
// valid from Ready.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot join from state %q", state)
	}
	c.state = StateInitializing
	roomURL := c.roomURL
	audioOnly := c.audioOnly
	c.mu.Unlock()
	c.notify()

	// Audio sessions never touch the camera.
	if err := c.cfg.Devices.RequestAccess(ctx, !audioOnly); err != nil {
		if err == ErrPermissionDenied {
			c.setError(permissionMessage(audioOnly))
			return err
		}
		c.revertToReady()
		return err
	}

	// Remove any frame a previous failed teardown left behind before
	// constructing a new one.
	c.frames.Purge()

	frame, err := c.cfg.FrameFactory.NewFrame(roomURL, audioOnly, c.handleFrameEvent)
	if err != nil {
		c.revertToReady()
		return err
	}
	c.frames.add(frame)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.frames.remove(frame)
		destroyQuietly(frame)
		return ErrSessionClosed
	}
	c.frame = frame
	c.mu.Unlock()

	if err := frame.Join(ctx); err != nil {
		c.mu.Lock()
		if c.frame == frame {
			c.frame = nil
		}
		c.mu.Unlock()
		c.frames.remove(frame)
		destroyQuietly(frame)
		c.revertToReady()
		return err
	}
	return nil
}

// Leave ends the call locally.
func (c *Controller) Leave() {
	c.endCall()
}

func (c *Controller) handleFrameEvent(ev FrameEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	switch ev {
	case FrameEventJoined:
		if c.state == StateInitializing {
			c.state = StateInCall
		}
		c.mu.Unlock()
		c.notify()

	case FrameEventLeft:
		c.mu.Unlock()
		c.endCall()

	case FrameEventError:
		frame := c.frame
		c.frame = nil
		hasRoom := c.roomURL != ""
		if hasRoom {
			c.state = StateReady
		} else {
			c.state = StateError
			c.errMsg = "The call ended unexpectedly"
		}
		c.mu.Unlock()
		if frame != nil {
			c.frames.remove(frame)
			destroyQuietly(frame)
		}
		c.notify()

	default:
		c.mu.Unlock()
	}
}

// endCall tears the frame down and returns to Idle.
func (c *Controller) endCall() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	frame := c.frame
	c.frame = nil
	c.state = StateEnding
	c.mu.Unlock()
	c.notify()

	if frame != nil {
		c.frames.remove(frame)
		destroyQuietly(frame)
	}
	c.frames.Purge()

	c.mu.Lock()
	if !c.closed {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.notify()
}

// Close releases everything the session holds. It is called on
// unmount/navigation, never blocks, never panics, and is safe from any
// state and against late async callbacks.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	frame := c.frame
	c.frame = nil
	cancel := c.cancelFeed
	c.cancelFeed = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if frame != nil {
		c.frames.remove(frame)
		destroyQuietly(frame)
	}
	c.frames.Purge()
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.errMsg = msg
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) revertToReady() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.roomURL != "" {
		c.state = StateReady
	} else {
		c.state = StateError
		c.errMsg = "Could not start the session"
	}
	c.mu.Unlock()
	c.notify()
}

// Snapshot returns the current view-model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:          c.state,
		RoomURL:        c.roomURL,
		AudioOnly:      c.audioOnly,
		IsLoading:      c.state == StateLoading,
		IsInitializing: c.state == StateInitializing,
		IsCallStarted:  c.state == StateInCall,
		ErrorMessage:   c.errMsg,
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.Snapshot())
	}
}

func permissionMessage(audioOnly bool) string {
	if audioOnly {
		return "Microphone access was denied. Allow microphone access in your browser settings and try again."
	}
	return "Camera and microphone access was denied. Allow access in your browser settings and try again."
}

func roomFailureMessage(err error) string {
	switch RoomErrorKind(err) {
	case ErrorKindAuth:
		return "The video service rejected our credentials. This needs to be fixed by support; retrying will not help."
	case ErrorKindValidation:
		return "The video service rejected the room request"
	case ErrorKindNetwork:
		return "Could not reach the video service. Check your connection and retry."
	default:
		return "Could not create the session room"
	}
}

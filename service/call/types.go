package call

import (
	"context"
	"time"
)

// Role of the local participant in a call session. Only the mentor may
// allocate a room; the patient waits for the link to appear.
type Role string

const (
	RolePatient Role = "patient"
	RoleMentor  Role = "mentor"
)

// State of a call session. See the Controller documentation for the
// transition rules.
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateAwaitingRoom   State = "awaiting_room"
	StateWaitingForHost State = "waiting_for_host"
	StateReady          State = "ready"
	StateInitializing   State = "initializing"
	StateInCall         State = "in_call"
	StateEnding         State = "ending"
	StateError          State = "error"
)

// Appointment is the call-lifecycle view of an appointment row: only
// the fields the session controller needs, mapped explicitly at the
// data boundary instead of passing raw rows around.
type Appointment struct {
	ID          uint
	PatientID   uint
	MentorID    uint
	Status      string
	MeetingType string // video or audio
	MeetingLink string
	StartTime   time.Time
	EndTime     time.Time
}

// Accessor reads and writes the appointment record backing a call
// session, and exposes the realtime change feed for it.
type Accessor interface {
	GetAppointmentByID(ctx context.Context, id uint) (*Appointment, error)

	// SetMeetingLink persists the room URL. Setting the same value twice
	// is a no-op; a different value already present returns
	// ErrLinkAlreadySet so the caller can reuse the stored link.
	SetMeetingLink(ctx context.Context, id uint, url string) error

	// Subscribe delivers the appointment each time its row changes. The
	// cancel func releases the subscription.
	Subscribe(id uint) (<-chan Appointment, func())
}

// Room is an ephemeral provider-hosted meeting space.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CreateRoomParams mirror the provider's room creation options.
type CreateRoomParams struct {
	Name      string
	Privacy   string
	TTL       time.Duration
	AudioOnly bool
}

// RoomProvider allocates and tears down call rooms.
type RoomProvider interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error)
	GetRoomDetails(ctx context.Context, name string) (*Room, error)

	// DeleteRoom is idempotent: deleting a room that is already gone
	// succeeds.
	DeleteRoom(ctx context.Context, name string) error
}

// FrameEvent is a lifecycle event emitted by the embedded call frame.
type FrameEvent string

const (
	FrameEventLoading           FrameEvent = "loading"
	FrameEventLoaded            FrameEvent = "loaded"
	FrameEventJoined            FrameEvent = "joined-meeting"
	FrameEventLeft              FrameEvent = "left-meeting"
	FrameEventError             FrameEvent = "error"
	FrameEventParticipantJoined FrameEvent = "participant-joined"
)

// Frame is the embedded call surface. The vendor SDK behind it is a
// black box; the controller only sequences its lifecycle.
type Frame interface {
	Join(ctx context.Context) error
	Leave() error
	Destroy() error
}

// FrameFactory constructs a frame bound to a room URL. Events are
// delivered on the supplied callback.
type FrameFactory interface {
	NewFrame(roomURL string, audioOnly bool, onEvent func(FrameEvent)) (Frame, error)
}

// MediaDevices negotiates camera/microphone access. The microphone is
// always requested; the camera only when video is true.
type MediaDevices interface {
	RequestAccess(ctx context.Context, video bool) error
}

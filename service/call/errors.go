package call

import (
	"errors"
	"fmt"
)

// Room provider failure kinds. Authentication failures need credential
// intervention and are reported distinctly from connectivity problems.
const (
	ErrorKindAuth       = "auth"
	ErrorKindValidation = "validation"
	ErrorKindNetwork    = "network"
)

// RoomError classifies a room provider failure.
type RoomError struct {
	Kind       string
	StatusCode int
	Message    string
}

func (e *RoomError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("room provider %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("room provider %s error: %s", e.Kind, e.Message)
}

// RoomErrorKind extracts the failure kind, or "" if err is not a room
// provider error.
func RoomErrorKind(err error) string {
	var re *RoomError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

var (
	// ErrAppointmentNotFound: the appointment row does not exist.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrRoomNotFound: the provider has no room with that name.
	ErrRoomNotFound = errors.New("room not found")

	// ErrLinkAlreadySet: the appointment already carries a different
	// meeting link; callers must reuse the stored one.
	ErrLinkAlreadySet = errors.New("meeting link already set")

	// ErrPermissionDenied: the user rejected camera/microphone access.
	ErrPermissionDenied = errors.New("camera/microphone permission denied")

	// ErrSessionClosed: the controller was closed; the operation was
	// discarded.
	ErrSessionClosed = errors.New("call session closed")
)

package call

import (
	"context"
	"errors"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/service/events"
	"gorm.io/gorm"
)

// RecordAccessor is the database-backed Accessor. Meeting-link writes
// go through a compare-and-set so a room is referenced at most once per
// appointment, and every successful write is published on the change
// bus for the counterpart's client to observe.
type RecordAccessor struct {
	db  *gorm.DB
	bus *events.Bus
}

func NewRecordAccessor(db *gorm.DB, bus *events.Bus) *RecordAccessor {
	return &RecordAccessor{db: db, bus: bus}
}

func (a *RecordAccessor) GetAppointmentByID(ctx context.Context, id uint) (*Appointment, error) {
	var row models.Appointment
	if err := a.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	appt := mapAppointment(row)
	return &appt, nil
}

// SetMeetingLink writes the link only if the column is still empty. The
// guard lives in the UPDATE's WHERE clause, so two clients racing to
// allocate resolve at the database: exactly one write lands, the other
// sees zero rows affected and gets ErrLinkAlreadySet.
func (a *RecordAccessor) SetMeetingLink(ctx context.Context, id uint, url string) error {
	res := a.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND (meeting_link = '' OR meeting_link IS NULL)", id).
		Update("meeting_link", url)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		// Missing row, a lost race, or our own value already stored.
		var row models.Appointment
		if err := a.db.WithContext(ctx).First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAppointmentNotFound
			}
			return err
		}
		if row.MeetingLink == url {
			// Same value twice is a no-op; nothing to publish.
			return nil
		}
		return ErrLinkAlreadySet
	}

	var row models.Appointment
	if err := a.db.WithContext(ctx).First(&row, id).Error; err != nil {
		// The write landed; the publish is best-effort on top of it.
		return nil
	}
	old := row
	old.MeetingLink = ""
	a.bus.Publish(events.AppointmentChange{New: row, Old: old})
	return nil
}

func (a *RecordAccessor) Subscribe(id uint) (<-chan Appointment, func()) {
	raw, cancel := a.bus.Subscribe(id)
	out := make(chan Appointment, 8)
	go func() {
		defer close(out)
		for change := range raw {
			select {
			case out <- mapAppointment(change.New):
			default:
			}
		}
	}()
	return out, cancel
}

// mapAppointment converts the persistence row into the call-lifecycle
// view at the data boundary.
func mapAppointment(row models.Appointment) Appointment {
	return Appointment{
		ID:          row.ID,
		PatientID:   row.PatientID,
		MentorID:    row.MentorID,
		Status:      row.Status,
		MeetingType: row.MeetingType,
		MeetingLink: row.MeetingLink,
		StartTime:   row.StartTime,
		EndTime:     row.EndTime,
	}
}

package call

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/emotions-app/emotions-server/service/events"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The empty-link guard must be part of the UPDATE itself; both
// expectations below only match SQL that carries it, so a write without
// the guard fails every test in this file.
const guardedUpdate = `UPDATE "appointments" SET "meeting_link"=\$1.*meeting_link = '' OR meeting_link IS NULL`

func newMockAccessor(t *testing.T) (*RecordAccessor, sqlmock.Sqlmock, *events.Bus) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening gorm: %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	return NewRecordAccessor(gdb, bus), mock, bus
}

func appointmentRows(id uint, link string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "patient_id", "mentor_id", "status", "meeting_type", "meeting_link"}).
		AddRow(id, 3, 4, "confirmed", "video", link)
}

func TestSetMeetingLinkWritesOnlyWhenEmpty(t *testing.T) {
	accessor, mock, bus := newMockAccessor(t)
	ch, cancel := bus.Subscribe(7)
	defer cancel()

	mock.ExpectExec(guardedUpdate).
		WithArgs("https://x.daily.co/room123", sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "appointments"`).
		WillReturnRows(appointmentRows(7, "https://x.daily.co/room123"))

	if err := accessor.SetMeetingLink(context.Background(), 7, "https://x.daily.co/room123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case change := <-ch:
		if change.New.MeetingLink != "https://x.daily.co/room123" {
			t.Fatalf("published change carries link %q", change.New.MeetingLink)
		}
		if change.Old.MeetingLink != "" {
			t.Fatalf("published old state carries link %q", change.Old.MeetingLink)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a change event after the link write")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetMeetingLinkLostRaceReportsAlreadySet(t *testing.T) {
	accessor, mock, bus := newMockAccessor(t)
	ch, cancel := bus.Subscribe(7)
	defer cancel()

	// Zero rows affected: another client's link landed first.
	mock.ExpectExec(guardedUpdate).
		WithArgs("https://x.daily.co/mine", sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "appointments"`).
		WillReturnRows(appointmentRows(7, "https://x.daily.co/theirs"))

	err := accessor.SetMeetingLink(context.Background(), 7, "https://x.daily.co/mine")
	if !errors.Is(err, ErrLinkAlreadySet) {
		t.Fatalf("expected ErrLinkAlreadySet, got %v", err)
	}

	select {
	case change := <-ch:
		t.Fatalf("lost race must not publish, got %+v", change)
	default:
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetMeetingLinkSameValueIsNoOp(t *testing.T) {
	accessor, mock, bus := newMockAccessor(t)
	ch, cancel := bus.Subscribe(7)
	defer cancel()

	mock.ExpectExec(guardedUpdate).
		WithArgs("https://x.daily.co/room123", sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "appointments"`).
		WillReturnRows(appointmentRows(7, "https://x.daily.co/room123"))

	if err := accessor.SetMeetingLink(context.Background(), 7, "https://x.daily.co/room123"); err != nil {
		t.Fatalf("re-applying the stored value must succeed, got %v", err)
	}

	select {
	case change := <-ch:
		t.Fatalf("no-op must not publish, got %+v", change)
	default:
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetMeetingLinkMissingAppointment(t *testing.T) {
	accessor, mock, _ := newMockAccessor(t)

	mock.ExpectExec(guardedUpdate).
		WithArgs("https://x.daily.co/room123", sqlmock.AnyArg(), 42).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := accessor.SetMeetingLink(context.Background(), 42, "https://x.daily.co/room123")
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

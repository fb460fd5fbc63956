package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/google/uuid"
)

// NewAttendance holds the fields of a check-in about to be recorded
type NewAttendance struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	CheckInAt time.Time
	Lat       *float64
	Lng       *float64
	DistanceM *float64
}

// AttendanceRepo defines the interface for attendance repository operations
type AttendanceRepo interface {
	Exists(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
	Create(ctx context.Context, a NewAttendance) (model.Attendance, error)
}

type attendanceRepo struct {
	db *sql.DB
}

// NewAttendanceRepo creates a new AttendanceRepo instance
func NewAttendanceRepo(db *sql.DB) AttendanceRepo {
	return &attendanceRepo{db: db}
}

const attendanceColumns = `id, event_id, user_id, check_in_at, check_out_at, status, lat, lng, distance_m, created_at`

func scanAttendance(row rowScanner) (model.Attendance, error) {
	var a model.Attendance
	var status string
	err := row.Scan(
		&a.ID,
		&a.EventID,
		&a.UserID,
		&a.CheckInAt,
		&a.CheckOutAt,
		&status,
		&a.Lat,
		&a.Lng,
		&a.DistanceM,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attendance{}, ErrNotFound
		}
		return model.Attendance{}, err
	}
	a.Status = model.VerificationStatus(status)
	return a, nil
}

// Exists reports whether the user already has an attendance row for the event
func (r *attendanceRepo) Exists(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendances WHERE event_id = $1 AND user_id = $2)
	`, eventID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("attendance exists: %w", err)
	}
	return exists, nil
}

// Create inserts a pending attendance row. The (event_id, user_id) unique constraint turns a
// concurrent duplicate into ErrConflict.
func (r *attendanceRepo) Create(ctx context.Context, na NewAttendance) (model.Attendance, error) {
	a, err := scanAttendance(r.db.QueryRowContext(ctx, `
		INSERT INTO attendances (event_id, user_id, check_in_at, lat, lng, distance_m)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+attendanceColumns,
		na.EventID, na.UserID, na.CheckInAt, na.Lat, na.Lng, na.DistanceM,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Attendance{}, fmt.Errorf("insert attendance: %w", ErrConflict)
		}
		return model.Attendance{}, fmt.Errorf("insert attendance: %w", err)
	}
	return a, nil
}

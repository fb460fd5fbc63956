package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/repo"
)

var (
	ErrAlreadyCheckedIn = errors.New("already checked in")
	ErrNotAdmitted      = errors.New("check-in was not admitted")
)

// Location is the optional client position sent with a check-in
type Location struct {
	Lat       *float64
	Lng       *float64
	DistanceM *float64
}

// Recorder persists admitted check-ins. The (event, user) unique constraint settles races
// between concurrent admissions.
type Recorder struct {
	attendance repo.AttendanceRepo
	now        func() time.Time
}

// NewRecorder creates a new recorder
func NewRecorder(attendance repo.AttendanceRepo) *Recorder {
	return &Recorder{attendance: attendance, now: time.Now}
}

// Record inserts a pending attendance row for an admitted result
func (r *Recorder) Record(ctx context.Context, res *Result, loc Location) (model.Attendance, error) {
	if res == nil || !res.Valid || res.Event == nil || res.Claims == nil {
		return model.Attendance{}, ErrNotAdmitted
	}

	a, err := r.attendance.Create(ctx, repo.NewAttendance{
		EventID:   res.Event.ID,
		UserID:    res.Claims.UserID,
		CheckInAt: r.now().UTC(),
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		DistanceM: loc.DistanceM,
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.Attendance{}, ErrAlreadyCheckedIn
		}
		return model.Attendance{}, fmt.Errorf("record attendance: %w", err)
	}
	return a, nil
}

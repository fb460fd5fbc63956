package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the user's authorization role
type Role string

const (
	RoleStudent       Role = "Student"
	RoleModerator     Role = "Moderator"
	RoleAdministrator Role = "Administrator"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleModerator, RoleAdministrator:
		return true
	}
	return false
}

// AccountStatus is the lifecycle status of a user account
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// EventStatus is the lifecycle status of an event
type EventStatus string

const (
	EventActive    EventStatus = "Active"
	EventCompleted EventStatus = "Completed"
	EventCancelled EventStatus = "Cancelled"
)

// VerificationStatus is the moderation state of an attendance record
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "Pending"
	VerificationApproved VerificationStatus = "Approved"
	VerificationRejected VerificationStatus = "Rejected"
)

// User represents a user in the system
type User struct {
	ID                    uuid.UUID
	Email                 string
	Name                  string
	PasswordHash          string
	Role                  Role
	AccountStatus         AccountStatus
	HasProfile            bool
	TempPasswordHash      *string
	TempPasswordUsage     int
	TempPasswordCreatedAt *time.Time
	SuspendedAt           *time.Time
	SuspendReason         *string
	DeletedAt             *time.Time
	CreatedAt             time.Time
}

// CanSignIn reports whether the account may obtain a new session
func (u User) CanSignIn() bool {
	return u.DeletedAt == nil && u.AccountStatus != AccountSuspended
}

// Session represents a refresh token session
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	IP        *string
	UserAgent *string
}

// Event is a scheduled event that accepts QR check-ins
type Event struct {
	ID                 uuid.UUID
	Title              string
	StartAt            time.Time
	EndAt              time.Time
	CheckInBufferMins  int
	CheckOutBufferMins int
	Status             EventStatus
	VenueLat           float64
	VenueLng           float64
	GeofenceRadiusM    float64
	QRPayload          *string
	ShortCode          *string
	CreatedAt          time.Time
}

// OpensAt is the first instant check-in is accepted
func (e Event) OpensAt() time.Time {
	return e.StartAt.Add(-time.Duration(e.CheckInBufferMins) * time.Minute)
}

// ClosesAt is the last instant check-in is accepted
func (e Event) ClosesAt() time.Time {
	return e.EndAt.Add(time.Duration(e.CheckOutBufferMins) * time.Minute)
}

// Attendance is a user's check-in for an event; unique per (event, user)
type Attendance struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	UserID     uuid.UUID
	CheckInAt  time.Time
	CheckOutAt *time.Time
	Status     VerificationStatus
	Lat        *float64
	Lng        *float64
	DistanceM  *float64
	CreatedAt  time.Time
}

// SecurityLog is a persisted audit record
type SecurityLog struct {
	ID         uuid.UUID
	EventType  string
	UserID     *uuid.UUID
	Email      *string
	IP         *string
	UserAgent  *string
	Detail     *string
	OccurredAt time.Time
}

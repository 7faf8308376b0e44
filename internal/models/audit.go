package models

import "time"

// Audit rows persisted by the optional database trail. These record what the
// operator did, not robot state; the kernel itself stays stateless across
// restarts.

// CommandLog records every submitted command and its acknowledgment.
type CommandLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"size:32;index" json:"action"`
	Value     *float64  `json:"value,omitempty"`
	Source    string    `gorm:"size:16" json:"source"`
	Status    string    `gorm:"size:16" json:"status"`
	Reason    string    `gorm:"size:32" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InspectionSession records one inspect_start..inspect_stop run.
type InspectionSession struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	DistanceM float64    `json:"distance_m"`
	Completed bool       `json:"completed"`
}

// SnapshotRecord indexes a captured still image with its odometric position.
type SnapshotRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DistanceM float64   `json:"distance_m"`
	SizeBytes int       `json:"size_bytes"`
	TakenAt   time.Time `json:"taken_at"`
}

package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

const auditQueueSize = 256

// Trail writes audit rows asynchronously so a slow database can never stall
// the control tick. Writes are queued as closures; when the queue backs up,
// entries are dropped with a log line.
type Trail struct {
	db  *gorm.DB
	ops chan func(*gorm.DB) error

	openSessionID uint
}

func NewTrail(db *gorm.DB) *Trail {
	return &Trail{
		db:  db,
		ops: make(chan func(*gorm.DB) error, auditQueueSize),
	}
}

// Run drains the queue until the context is cancelled.
func (t *Trail) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-t.ops:
			if err := op(t.db); err != nil {
				utils.Logger.Warnf("audit write failed: %v", err)
			}
		}
	}
}

func (t *Trail) enqueue(op func(*gorm.DB) error) {
	select {
	case t.ops <- op:
	default:
		utils.Logger.Warnf("audit queue full, dropping entry")
	}
}

func (t *Trail) LogCommand(cmd models.MotionCommand, ack models.CommandAck) {
	row := models.CommandLog{
		Action:    string(cmd.Action),
		Value:     cmd.Value,
		Source:    cmd.Source,
		Status:    string(ack.Status),
		Reason:    string(ack.Reason),
		CreatedAt: ack.Timestamp,
	}
	t.enqueue(func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// StartSession inserts the session row synchronously in the writer goroutine;
// the returned ID is captured for the matching EndSession. Called from the
// control tick, so the insert itself still happens off-tick.
func (t *Trail) StartSession(at time.Time) {
	t.enqueue(func(db *gorm.DB) error {
		row := models.InspectionSession{StartedAt: at}
		if err := db.Create(&row).Error; err != nil {
			return err
		}
		t.openSessionID = row.ID
		return nil
	})
}

func (t *Trail) EndSession(at time.Time, distanceM float64, completed bool) {
	ended := at
	t.enqueue(func(db *gorm.DB) error {
		if t.openSessionID == 0 {
			return nil
		}
		id := t.openSessionID
		t.openSessionID = 0
		return db.Model(&models.InspectionSession{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"ended_at":   &ended,
				"distance_m": distanceM,
				"completed":  completed,
			}).Error
	})
}

func (t *Trail) RecordSnapshot(distanceM float64, sizeBytes int, at time.Time) {
	row := models.SnapshotRecord{
		DistanceM: distanceM,
		SizeBytes: sizeBytes,
		TakenAt:   at,
	}
	t.enqueue(func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

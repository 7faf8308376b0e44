// Package cache mirrors the latest telemetry into Redis so fleet-side tools
// can read robot state without holding a session open.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"inspection-robot/internal/config"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

const (
	opTimeout = 500 * time.Millisecond
	stateTTL  = 10 * time.Second
)

// NewRedisClient connects and pings the configured Redis instance.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	utils.Logger.Infof("redis connected at %s:%s", cfg.RedisHost, cfg.RedisPort)
	return client, nil
}

// Mirror is a telemetry sink writing the full snapshot plus a small field hash
// for cheap partial reads. Writes are fire-and-forget with a short deadline;
// a slow Redis never backpressures the publisher.
type Mirror struct {
	client      *redis.Client
	stateKey    string
	snapshotKey string
}

func NewMirror(client *redis.Client, robotSerial string) *Mirror {
	return &Mirror{
		client:      client,
		stateKey:    fmt.Sprintf("robot:%s:state", robotSerial),
		snapshotKey: fmt.Sprintf("robot:%s:telemetry", robotSerial),
	}
}

func (m *Mirror) PublishTelemetry(snap models.TelemetrySnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		pipe := m.client.Pipeline()
		pipe.Set(ctx, m.snapshotKey, payload, stateTTL)
		pipe.HSet(ctx, m.stateKey,
			"mode", string(snap.Mode),
			"distance_m", snap.DistanceTraveled,
			"estop_latched", snap.EStopLatched,
			"connection_alive", snap.ConnectionAlive,
			"geofence_breached", snap.GeofenceBreached,
			"battery_soc", snap.BatterySOC,
		)
		pipe.Expire(ctx, m.stateKey, stateTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			utils.Logger.Debugf("redis mirror write failed: %v", err)
		}
	}()
}

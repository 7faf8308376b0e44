package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Identity
	RobotSerial string

	// Network
	HTTPHost     string
	HTTPPort     string
	MediaPort    string
	MaxWSClients int

	// MQTT (optional, enabled when broker is set)
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Redis (optional, enabled when host is set)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Database audit trail (optional, enabled when host is set)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Control loop cadence
	ControlTick   time.Duration
	TelemetryTick time.Duration
	SensorPoll    time.Duration

	// Drive
	RampStepPct    float64 // max duty change per control tick, per side
	TurnSpeedPct   float64 // factor applied to the inner wheel in a turn
	PivotSpeedPct  float64 // factor applied to setpoint for in-place pivots
	SpeedDefault   float64
	SpeedStepPct   float64
	SpeedMinPct    float64 // anti-stall duty floor at the actuator
	BrakePulseTick int     // ticks of counter-pulse on brake

	// Odometry geometry
	WheelDiameterMM float64
	WheelBaseMM     float64
	TicksPerRev     int

	// Safety
	WatchdogTimeout time.Duration
	PitLengthM      float64

	// Lighting
	LightDefaultPct float64

	// Application
	LogLevel string
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables win either way
	_ = godotenv.Load()

	return &Config{
		RobotSerial: getEnv("ROBOT_SERIAL", "PIT0001"),

		HTTPHost:     getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		MediaPort:    getEnv("MEDIA_PORT", "8081"),
		MaxWSClients: getInt("MAX_WS_CLIENTS", 5),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "pit-robot"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "inspection_robot"),

		ControlTick:   getDurationMS("CONTROL_TICK_MS", 20),
		TelemetryTick: getDurationMS("TELEMETRY_TICK_MS", 200),
		SensorPoll:    getDurationMS("SENSOR_POLL_MS", 100),

		RampStepPct:    getFloat("RAMP_STEP_PCT", 5),
		TurnSpeedPct:   getFloat("TURN_SPEED_FACTOR", 0.7),
		PivotSpeedPct:  getFloat("PIVOT_SPEED_FACTOR", 0.6),
		SpeedDefault:   getFloat("SPEED_DEFAULT_PCT", 60),
		SpeedStepPct:   getFloat("SPEED_STEP_PCT", 10),
		SpeedMinPct:    getFloat("SPEED_MIN_PCT", 20),
		BrakePulseTick: getInt("BRAKE_PULSE_TICKS", 3),

		WheelDiameterMM: getFloat("WHEEL_DIAMETER_MM", 120),
		WheelBaseMM:     getFloat("WHEEL_BASE_MM", 450),
		TicksPerRev:     getInt("ENCODER_TICKS_PER_REV", 360),

		WatchdogTimeout: getDurationMS("WATCHDOG_TIMEOUT_MS", 15000),
		PitLengthM:      getFloat("PIT_LENGTH_M", 200),

		LightDefaultPct: getFloat("LIGHT_DEFAULT_PCT", 80),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getDurationMS(key string, defaultMS int) time.Duration {
	return time.Duration(getInt(key, defaultMS)) * time.Millisecond
}

// Package di wires the kernel together: hardware collaborators, control loop,
// telemetry fan-out and the operator surfaces, in dependency order.
package di

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"inspection-robot/internal/cache"
	"inspection-robot/internal/config"
	"inspection-robot/internal/control"
	"inspection-robot/internal/database"
	"inspection-robot/internal/drive"
	"inspection-robot/internal/hardware"
	"inspection-robot/internal/mqttbridge"
	"inspection-robot/internal/nav"
	"inspection-robot/internal/safety"
	"inspection-robot/internal/sensors"
	"inspection-robot/internal/server"
	"inspection-robot/internal/telemetry"
	"inspection-robot/internal/utils"
)

// Hardware groups the physical collaborators the kernel drives. Real boards
// inject their GPIO/I2C implementations; tests and off-robot runs use SimRig.
type Hardware struct {
	Left    hardware.MotorActuator
	Right   hardware.MotorActuator
	Encoder hardware.EncoderSource
	EStop   hardware.EStopLine
	Sensors hardware.SensorReader
	Camera  hardware.Camera
	Leds    hardware.LedPanel
}

// SimHardware builds a fully simulated hardware set.
func SimHardware() (Hardware, *hardware.SimRig) {
	rig := hardware.NewSimRig()
	return Hardware{
		Left:    rig.Left(),
		Right:   rig.Right(),
		Encoder: rig,
		EStop:   rig,
		Sensors: rig,
		Camera:  rig,
		Leds:    rig,
	}, rig
}

type Container struct {
	Config *config.Config

	Machine    *nav.Machine
	Supervisor *safety.Supervisor
	Driver     *drive.Driver
	Odometry   *drive.Odometry
	Monitor    *sensors.Monitor
	Loop       *control.Loop
	Publisher  *telemetry.Publisher

	Hub         *server.Hub
	HTTPServer  *server.HTTPServer
	MediaServer *server.MediaServer

	MQTTClient mqtt.Client
	Bridge     *mqttbridge.Bridge

	RedisClient *redis.Client
	Mirror      *cache.Mirror

	DB    *gorm.DB
	Trail *database.Trail
}

// NewContainer builds every component in dependency order. Optional backends
// (MQTT, Redis, the audit database) are skipped when unconfigured; a failure
// to reach a configured backend is fatal, silence about it is worse.
func NewContainer(cfg *config.Config, hw Hardware) (*Container, error) {
	c := &Container{Config: cfg}

	// stage 1: kernel core
	c.Machine = nav.NewMachine(cfg.SpeedDefault, cfg.SpeedStepPct)
	c.Supervisor = safety.NewSupervisor(hw.EStop, cfg.WatchdogTimeout, cfg.PitLengthM, time.Now())
	c.Driver = drive.NewDriver(hw.Left, hw.Right, drive.Params{
		RampStepPct:    cfg.RampStepPct,
		TurnFactor:     cfg.TurnSpeedPct,
		PivotFactor:    cfg.PivotSpeedPct,
		MinDutyPct:     cfg.SpeedMinPct,
		BrakePulseTick: cfg.BrakePulseTick,
	})
	c.Odometry = drive.NewOdometry(cfg.WheelDiameterMM, cfg.WheelBaseMM, cfg.TicksPerRev)
	c.Monitor = sensors.NewMonitor(hw.Sensors, cfg.SensorPoll)

	// stage 2: optional audit trail, wired before the loop so commands log
	if cfg.DBHost != "" {
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		c.DB = db
		c.Trail = database.NewTrail(db)
	}

	var auditor control.Auditor
	if c.Trail != nil {
		auditor = c.Trail
	}
	c.Loop = control.NewLoop(control.Deps{
		Machine:    c.Machine,
		Supervisor: c.Supervisor,
		Driver:     c.Driver,
		Odometry:   c.Odometry,
		Encoder:    hw.Encoder,
		Monitor:    c.Monitor,
		Camera:     hw.Camera,
		Leds:       hw.Leds,
		Auditor:    auditor,
		EStopLine:  hw.EStop,
		Tick:       cfg.ControlTick,
		LightPct:   cfg.LightDefaultPct,
	})

	// stage 3: operator surfaces
	c.Hub = server.NewHub(c.Loop, cfg.RobotSerial, cfg.MaxWSClients)
	c.HTTPServer = server.NewHTTPServer(c.Loop, c.Hub, cfg.HTTPHost, cfg.HTTPPort)
	c.MediaServer = server.NewMediaServer(hw.Camera, cfg.HTTPHost, cfg.MediaPort, cfg.TelemetryTick)

	// stage 4: telemetry fan-out
	c.Publisher = telemetry.NewPublisher(c.Loop, cfg.TelemetryTick, c.Hub)

	if cfg.RedisHost != "" {
		client, err := cache.NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		c.RedisClient = client
		c.Mirror = cache.NewMirror(client, cfg.RobotSerial)
		c.Publisher.AddSink(c.Mirror)
	}

	if cfg.MQTTBroker != "" {
		// bridge first; the client's onConnect hook resubscribes it
		var bridge *mqttbridge.Bridge
		client, err := mqttbridge.NewClient(cfg, func(mc mqtt.Client) {
			if bridge != nil {
				bridge.Subscribe(mc)
			}
		})
		if err != nil {
			return nil, err
		}
		bridge = mqttbridge.NewBridge(client, c.Loop, cfg.RobotSerial)
		bridge.Subscribe(client)
		c.MQTTClient = client
		c.Bridge = bridge
		c.Publisher.AddSink(bridge)
	}

	utils.Logger.Infof("container ready: robot %s, mqtt=%v redis=%v audit=%v",
		cfg.RobotSerial, c.Bridge != nil, c.Mirror != nil, c.Trail != nil)
	return c, nil
}

// Close releases external connections. The loops are stopped by their context.
func (c *Container) Close() {
	if c.MQTTClient != nil {
		c.MQTTClient.Disconnect(250)
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			utils.Logger.Warnf("redis close failed: %v", err)
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Run starts every background activity and blocks until ctx is cancelled.
func (c *Container) Run(ctx context.Context) {
	go c.Monitor.Run(ctx)
	go c.Loop.Run(ctx)
	go c.Publisher.Run(ctx)
	if c.Trail != nil {
		go c.Trail.Run(ctx)
	}
	go func() {
		if err := c.MediaServer.Start(); err != nil {
			utils.Logger.Errorf("media server failed: %v", err)
		}
	}()
	go func() {
		if err := c.HTTPServer.Start(); err != nil {
			utils.Logger.Errorf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.HTTPServer.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Warnf("http shutdown: %v", err)
	}
	if err := c.MediaServer.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Warnf("media shutdown: %v", err)
	}
}

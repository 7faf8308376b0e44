package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"inspection-robot/internal/config"
	"inspection-robot/internal/di"
	"inspection-robot/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Logger.Fatalf("configuration load failed: %v", err)
	}
	utils.SetupLogger(cfg.LogLevel)

	utils.Logger.Infof("pit inspection robot %s starting", cfg.RobotSerial)

	// real deployments swap in the GPIO/I2C hardware here
	hw, _ := di.SimHardware()

	container, err := di.NewContainer(cfg, hw)
	if err != nil {
		utils.Logger.Fatalf("container initialization failed: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container.Run(ctx)
	utils.Logger.Infof("shutdown complete")
}

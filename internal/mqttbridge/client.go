// Package mqttbridge mirrors the command/ack/telemetry surfaces over MQTT so
// a fleet backend can drive the robot without a direct WebSocket session.
package mqttbridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"inspection-robot/internal/config"
	"inspection-robot/internal/utils"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// NewClient connects to the configured broker with auto-reconnect. The
// onConnect hook re-establishes subscriptions after every (re)connection.
func NewClient(cfg *config.Config, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		utils.Logger.Infof("mqtt connected to %s", cfg.MQTTBroker)
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		utils.Logger.Warnf("mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	return client, nil
}

package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"inspection-robot/internal/control"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// Bridge subscribes for commands and publishes acks and telemetry under
// robot/<serial>/. Commands arriving here count as heartbeats exactly like
// WebSocket traffic, so an MQTT-driven operator keeps the link watchdog fed.
type Bridge struct {
	client mqtt.Client
	loop   *control.Loop

	commandTopic   string
	ackTopic       string
	telemetryTopic string
}

func NewBridge(client mqtt.Client, loop *control.Loop, robotSerial string) *Bridge {
	return &Bridge{
		client:         client,
		loop:           loop,
		commandTopic:   fmt.Sprintf("robot/%s/command", robotSerial),
		ackTopic:       fmt.Sprintf("robot/%s/ack", robotSerial),
		telemetryTopic: fmt.Sprintf("robot/%s/telemetry", robotSerial),
	}
}

// Subscribe attaches the command handler. Run from the client's onConnect
// hook so the subscription survives reconnects.
func (b *Bridge) Subscribe(client mqtt.Client) {
	token := client.Subscribe(b.commandTopic, 1, b.onCommand)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		utils.Logger.Errorf("mqtt subscribe %s failed: %v", b.commandTopic, token.Error())
		return
	}
	utils.Logger.Infof("mqtt subscribed to %s", b.commandTopic)
}

func (b *Bridge) onCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := models.ParseCommand(msg.Payload())
	if err != nil {
		b.publishAck(models.CommandAck{
			Status:  models.AckRejected,
			Reason:  utils.ClassOf(err),
			Message: err.Error(),
		})
		return
	}
	cmd.Source = "mqtt"

	var ack models.CommandAck
	if cmd.Action == models.ActionEStop {
		ack = b.loop.ForceEStop()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		ack = b.loop.Submit(ctx, cmd)
		cancel()
	}
	b.publishAck(ack)
}

func (b *Bridge) publishAck(ack models.CommandAck) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	token := b.client.Publish(b.ackTopic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		utils.Logger.Warnf("mqtt ack publish failed: %v", token.Error())
	}
}

// PublishTelemetry implements telemetry.Sink. QoS 0, fire-and-forget: the next
// frame is 200ms behind.
func (b *Bridge) PublishTelemetry(snap models.TelemetrySnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	b.client.Publish(b.telemetryTopic, 0, false, payload)
}

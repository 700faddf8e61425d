//go:build no_mqtt

package main

import (
	"log/slog"

	"bledom-go-home/internal/controller"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *controller.Registry, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}

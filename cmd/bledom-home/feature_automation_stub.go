//go:build no_automation

package main

import (
	"log/slog"

	"bledom-go-home/internal/controller"
	"bledom-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *controller.Registry, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}

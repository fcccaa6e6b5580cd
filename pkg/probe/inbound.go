package probe

import (
	"encoding/json"
	"os"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

// Minimal inbound descriptor handed to the ephemeral engine instance: one
// SOCKS listener bound to loopback only.

type inboundConfig struct {
	Inbounds []inbound `json:"inbounds"`
}

type inbound struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Listen   string `json:"listen"`
}

// writeInboundFile writes the loopback SOCKS inbound descriptor for the
// given port to a temp file. The caller removes it when the attempt ends.
func writeInboundFile(port int) (string, error) {
	cfg := inboundConfig{
		Inbounds: []inbound{
			{
				Protocol: "socks",
				Port:     port,
				Listen:   "127.0.0.1",
			},
		},
	}

	f, err := os.CreateTemp("", "v2rayn-inbound-*.json")
	if err != nil {
		return "", errors.NewIOError("failed to create inbound temp file", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(cfg); err != nil {
		os.Remove(f.Name())
		return "", errors.NewIOError("failed to write inbound temp file", err).WithContext("path", f.Name())
	}

	return f.Name(), nil
}

package mux

import (
	"fmt"
	"os/exec"
)

// Detect returns a tmux adapter when the tmux binary is on the search path.
// A running server is not required: the orchestrator starts one with its
// first session.
func Detect(opts ...Option) (Multiplexer, error) {
	if path, err := exec.LookPath("tmux"); err == nil && path != "" {
		return NewTmux(append([]Option{WithRunner(ExecRunner{Bin: path})}, opts...)...), nil
	}
	return nil, fmt.Errorf("no supported terminal multiplexer detected (install tmux)")
}

// FromName creates a Multiplexer by name.
func FromName(name string, opts ...Option) (Multiplexer, error) {
	switch name {
	case "tmux":
		return NewTmux(opts...), nil
	case "zellij":
		return nil, fmt.Errorf("zellij support is not yet implemented")
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}

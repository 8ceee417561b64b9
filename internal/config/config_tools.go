package config

import "time"

// ToolsConfig wires internal/toolhost's three provider variants behind
// the Router. InProcess tools are registered by the CLI driver
// directly (there is no declarative way to describe a Go function in
// YAML); this section only configures the out-of-process variants.
type ToolsConfig struct {
	ChildProcesses []ChildProcessToolConfig `yaml:"child_processes"`
	WSBridges      []WSBridgeToolConfig     `yaml:"ws_bridges"`
}

// ChildProcessToolConfig configures one toolhost.ChildProcessProvider.
type ChildProcessToolConfig struct {
	ID      string        `yaml:"id"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// WSBridgeToolConfig configures one toolhost.WSBridgeProvider. The
// transport that accepts browser connections and feeds them to the
// bridge is an out-of-scope adapter (spec Non-goals); this only names
// the provider id the adapter will look up.
type WSBridgeToolConfig struct {
	ID string `yaml:"id"`
}

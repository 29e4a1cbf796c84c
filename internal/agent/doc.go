// Package agent defines the boundary to the external language-model agent.
//
// The agent is a black box: it accepts a prompt plus tool policy and emits a
// typed message stream. This package carries the stream types, a CLI-backed
// client that runs the agent as a subprocess, and the reducer that collapses
// one task's stream into a single success value or error.
package agent

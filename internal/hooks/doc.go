// Package hooks observes agent lifecycle events and derives run state from
// them.
//
// The bridge exposes four slots the agent boundary invokes synchronously:
// session start, pre-tool-use, post-tool-use, and session end. Tool
// observations are the only source of the files-changed set; the bridge
// records paths as a side effect of watching Write/Edit calls and emits a
// progress notification on each new path. It gates nothing: every slot
// returns a continue directive, and pre-tool-use always approves (a
// pass-through authorization stub, not sandboxing).
//
// A hook must never throw past the boundary that invoked it. Internal faults
// are recovered and logged, and the directive still continues, so a buggy
// observer cannot stall the agent.
package hooks

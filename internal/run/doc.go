// Package run owns a batch execution: the shared derived state observed by
// lifecycle hooks, and the sequencer that drives tasks through the agent
// one at a time, aborting the batch on the first failure.
package run

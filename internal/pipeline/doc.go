// Package pipeline wires the account pool, scheduler, workers, storage and
// run tracker into one harvest run.
//
// A run loads accounts, plans jobs from the stored checkpoints, scans them
// under the run budget and closes the run record with the per-topic outcomes.
package pipeline

// Package scheduler turns the topic catalogue into an ordered list of scan
// jobs, each resuming from its topic's checkpoint.
//
// Topics still inside their cooldown since the last successful scan are held
// back as skipped outcomes, and a topic whose checkpoint cannot be read is
// reported as errored without affecting the rest of the plan.
package scheduler

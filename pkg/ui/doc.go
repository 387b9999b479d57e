// Package ui renders operator output: colored messages, lipgloss tables for
// runs, checkpoints and accounts, a live progress line and desktop
// notifications when a run ends.
package ui

// Package tracker keeps the provenance record of a pipeline run.
package tracker

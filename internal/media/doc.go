// Package media holds the source description shared by the probe, the
// quality planner, and the pipeline.
package media

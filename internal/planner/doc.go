// Package planner selects output tiers for a source.
//
// The preset catalog holds four renditions ordered from highest to lowest.
// Plan keeps every preset whose height fits inside the source, so nothing is
// ever upscaled, and always yields at least one tier: a source shorter than
// the smallest preset gets that preset clamped to the source height.
package planner

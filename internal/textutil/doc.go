// Package textutil provides text normalisation helpers for slugs, tags and
// file names.
//
// Slugs are derived from user titles: accents are stripped by decomposing
// to NFD and dropping combining marks, the result is lower-cased and every
// run of other characters collapses to a single hyphen.
package textutil

// Package intake accepts uploaded sources. It validates the declared
// metadata, identifies the container by signature, stages the body under a
// fresh upload id with a size cap, creates the catalog placeholder and the
// initial progress record, and hands the job to the workflow queue.
//
// Intake is transport agnostic; the HTTP layer feeds it a reader.
package intake

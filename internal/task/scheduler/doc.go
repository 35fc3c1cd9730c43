// Package scheduler triggers periodic maintenance jobs.
//
// It only computes trigger times; each trigger is submitted to the task queue
// and runs on the queue's workers next to downloads.
package scheduler

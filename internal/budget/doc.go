// Package budget tracks per-token sending budgets for amount caveats.
//
// A [Tracker] owns one record per token identifier. Each record follows a fixed-window
// schedule: Amount may be sent in each of Repetitions windows of length Period starting
// at Start. Records move forward lazily; every query first rolls the record to the
// window that contains the current time.
//
// Records are never restored from storage. A process restart forgets every budget.
package budget

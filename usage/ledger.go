// Package usage accounts for operation calls and persists the tallies.
//
// A Ledger is an immutable mapping from operation name to Counters: the
// Record functions return updated copies and never touch their input. The
// Tracker owns the process-wide ledger, wraps operation handlers so every
// call is counted, and debounces persistence of the result.
package usage

import "maps"

// Counters tallies calls to one operation. Total is bumped when a call
// starts; exactly one of Successful or Failed when it completes.
type Counters struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Ledger maps operation names to their counters. Treat values as immutable.
type Ledger map[string]Counters

// RecordCall returns a copy of l with op's Total incremented.
func RecordCall(l Ledger, op string) Ledger {
	return update(l, op, func(c *Counters) { c.Total++ })
}

// RecordSuccess returns a copy of l with op's Successful incremented.
func RecordSuccess(l Ledger, op string) Ledger {
	return update(l, op, func(c *Counters) { c.Successful++ })
}

// RecordFailure returns a copy of l with op's Failed incremented.
func RecordFailure(l Ledger, op string) Ledger {
	return update(l, op, func(c *Counters) { c.Failed++ })
}

func update(l Ledger, op string, fn func(*Counters)) Ledger {
	out := make(Ledger, len(l)+1)
	maps.Copy(out, l)
	c := out[op]
	fn(&c)
	out[op] = c
	return out
}

// Clone returns a shallow copy of l. Counters are values so the copy is
// independent.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	maps.Copy(out, l)
	return out
}

// Totals sums the counters of every operation.
func (l Ledger) Totals() Counters {
	var sum Counters
	for _, c := range l {
		sum.Total += c.Total
		sum.Successful += c.Successful
		sum.Failed += c.Failed
	}
	return sum
}

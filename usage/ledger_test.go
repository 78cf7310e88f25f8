package usage

import (
	"reflect"
	"testing"
)

func TestRecordFunctionsDoNotMutateInput(t *testing.T) {
	base := Ledger{"read_note": {Total: 2, Successful: 1, Failed: 1}}
	before := base.Clone()

	for name, fn := range map[string]func(Ledger, string) Ledger{
		"RecordCall":    RecordCall,
		"RecordSuccess": RecordSuccess,
		"RecordFailure": RecordFailure,
	} {
		t.Run(name, func(t *testing.T) {
			out := fn(base, "read_note")
			out = fn(out, "create_note")
			if !reflect.DeepEqual(before, base) {
				t.Fatalf("input ledger mutated: %v", base)
			}
			if len(out) != 2 {
				t.Fatalf("expected 2 operations, got %d", len(out))
			}
		})
	}
}

func TestRecordIncrementsExactlyOneCounter(t *testing.T) {
	l := RecordCall(nil, "op")
	if want, got := (Counters{Total: 1}), l["op"]; want != got {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	l = RecordSuccess(l, "op")
	if want, got := (Counters{Total: 1, Successful: 1}), l["op"]; want != got {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	l = RecordFailure(l, "other")
	if want, got := (Counters{Failed: 1}), l["other"]; want != got {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if want, got := (Counters{Total: 1, Successful: 1, Failed: 1}), l.Totals(); want != got {
		t.Fatalf("expected totals %+v, got %+v", want, got)
	}
}

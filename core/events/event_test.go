package events

import (
	"reflect"
	"testing"
)

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestMultiPreservesOrder(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	multi := Multi{first, nil, second}
	multi.Emit(testEvent("a"))
	multi.Emit(testEvent("b"))
	for _, rec := range []*Recorder{first, second} {
		if got := rec.Types(); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("unexpected order: %v", got)
		}
	}
}

func TestRecorderReset(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(testEvent("x"))
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected empty recorder after reset")
	}
}

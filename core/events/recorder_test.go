package events

import "testing"

type namedEvent string

func (e namedEvent) EventType() string { return string(e) }

func TestRecorderKeepsNewest(t *testing.T) {
	rec := NewRecorder(2)
	var seen []string
	fan := Fanout{rec, nil, EmitterFunc(func(evt Event) { seen = append(seen, evt.EventType()) })}
	for _, name := range []string{"a", "b", "c"} {
		fan.Emit(namedEvent(name))
	}
	fan.Emit(nil)

	got := rec.Events()
	if len(got) != 2 || got[0].EventType() != "b" || got[1].EventType() != "c" {
		t.Fatalf("unexpected retained events %v", got)
	}
	if len(seen) != 3 || seen[2] != "c" {
		t.Fatalf("expected every event forwarded, got %v", seen)
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected reset to drop events")
	}
}

package event

import "testing"

func TestEmitterDeliversOncePerHandler(t *testing.T) {
	var e Emitter[int]
	got := 0
	fn := func(v int) { got += v }

	e.Subscribe(fn)
	e.Subscribe(fn)

	e.Emit(7)
	if got != 7 {
		t.Errorf("expected a single delivery, got sum %v", got)
	}
	if e.Len() != 1 {
		t.Errorf("expected one registration, got %v", e.Len())
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	var e Emitter[string]
	calls := 0
	h := e.Subscribe(func(string) { calls++ })

	e.Emit("a")
	h.Close()
	h.Close()
	e.Emit("b")

	if calls != 1 {
		t.Errorf("expected 1 call, got %v", calls)
	}
	if e.Len() != 0 {
		t.Errorf("expected no registrations, got %v", e.Len())
	}
}

func TestEmitterOrder(t *testing.T) {
	var e Emitter[int]
	var order []int
	e.Subscribe(func(int) { order = append(order, 1) })
	e.Subscribe(func(int) { order = append(order, 2) })
	e.Subscribe(func(int) { order = append(order, 3) })

	e.Emit(0)
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("handlers ran out of order: %v", order)
		}
	}
}

func TestEmitterReentrantUnsubscribe(t *testing.T) {
	var e Emitter[int]
	var h *Handle
	calls := 0
	h = e.Subscribe(func(int) {
		calls++
		h.Close()
	})

	e.Emit(0)
	e.Emit(0)

	if calls != 1 {
		t.Errorf("expected handler to remove itself after 1 call, got %v", calls)
	}
}

func TestEmitterNilHandler(t *testing.T) {
	var e Emitter[int]
	h := e.Subscribe(nil)
	h.Close()
	e.Emit(1)
	if e.Len() != 0 {
		t.Errorf("nil handler should not register")
	}
}

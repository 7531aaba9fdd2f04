package coro

import "testing"

func TestTimerWheel_OrdersByDeadline(t *testing.T) {
	w := NewTimerWheel()
	a := &Task{id: 1}
	b := &Task{id: 2}
	c := &Task{id: 3}

	w.Insert(b, 200)
	w.Insert(a, 100)
	w.Insert(c, 300)

	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}

	due := w.PopDue(150)
	if len(due) != 1 || due[0] != a {
		t.Fatalf("PopDue(150) = %v, want [a]", due)
	}

	due = w.PopDue(250)
	if len(due) != 1 || due[0] != b {
		t.Fatalf("PopDue(250) = %v, want [b]", due)
	}

	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
}

func TestTimerWheel_Cancel(t *testing.T) {
	w := NewTimerWheel()
	a := &Task{id: 1}
	handle := w.Insert(a, 100)

	w.Cancel(handle)
	if w.Len() != 0 {
		t.Fatalf("Len() after Cancel = %d, want 0", w.Len())
	}

	due := w.PopDue(1000)
	if len(due) != 0 {
		t.Fatalf("PopDue after Cancel = %v, want empty", due)
	}

	// Cancel on an already-popped/cancelled handle must be a safe no-op.
	w.Cancel(handle)
}

func TestTimerWheel_NextDeadline(t *testing.T) {
	w := NewTimerWheel()
	if _, ok := w.NextDeadline(); ok {
		t.Fatal("NextDeadline on empty wheel reported ok")
	}

	a := &Task{id: 1}
	w.Insert(a, 500)
	next, ok := w.NextDeadline()
	if !ok || next != 500 {
		t.Fatalf("NextDeadline() = (%d, %v), want (500, true)", next, ok)
	}
}

func TestTimerWheel_PopDue_TiesByInsertionOrder(t *testing.T) {
	w := NewTimerWheel()
	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = &Task{id: uint64(i)}
		w.Insert(tasks[i], 50)
	}

	due := w.PopDue(100)
	if len(due) != 5 {
		t.Fatalf("PopDue(100) returned %d tasks, want 5", len(due))
	}
	for i, task := range due {
		if task.id != uint64(i) {
			t.Fatalf("PopDue order[%d] = task %d, want %d", i, task.id, i)
		}
	}
}

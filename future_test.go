package asyncrt

import "testing"

func Test_Waker_FiresOnce(t *testing.T) {
	count := 0
	w := newWaker(func() { count++ })
	w.Wake()
	w.Wake()
	w.Wake()
	if count != 1 {
		t.Fatalf("Wake fired %d times, want 1", count)
	}
}

func Test_taskWaiterList_AddWakerAfterDone(t *testing.T) {
	var l taskWaiterList
	l.notifyAll()

	fired := false
	l.addWaker(newWaker(func() { fired = true }))
	if !fired {
		t.Fatal("addWaker after notifyAll should fire immediately")
	}
}

func Test_taskWaiterList_NotifyAllFiresRegisteredWakers(t *testing.T) {
	var l taskWaiterList
	fired := make([]bool, 3)
	for i := range fired {
		i := i
		l.addWaker(newWaker(func() { fired[i] = true }))
	}

	l.notifyAll()

	for i, f := range fired {
		if !f {
			t.Fatalf("waker %d was not fired by notifyAll", i)
		}
	}
}

func Test_taskWaiterList_NotifyAllIdempotent(t *testing.T) {
	var l taskWaiterList
	l.notifyAll()
	l.notifyAll() // must not panic on double-close
}

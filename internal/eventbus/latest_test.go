package eventbus

import "testing"

func TestLatestKeepsNewest(t *testing.T) {
	l := NewLatest[int]()
	l.Offer(1)
	l.Offer(2)
	l.Offer(3)
	<-l.Ready()
	v, ok := l.Take()
	if !ok || v != 3 {
		t.Fatalf("expected 3 got %v (%v)", v, ok)
	}
	if _, ok := l.Take(); ok {
		t.Fatalf("expected empty slot")
	}
}

func TestLatestClose(t *testing.T) {
	l := NewLatest[string]()
	l.Offer("a")
	l.Close()
	l.Offer("b")
	if _, ok := l.Take(); ok {
		t.Fatalf("expected no value after close")
	}
	for range l.Ready() {
	}
	l.Close()
}

package circbuf

import (
	"sync"
	"testing"
)

func TestRingWriteRead(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("ab"))
	if r.Used() != 2 {
		t.Fatalf("Used() = %d, want 2", r.Used())
	}
	dst := make([]byte, 2)
	n := r.Read(dst)
	if n != 2 || string(dst) != "ab" {
		t.Fatalf("Read = %d %q", n, dst)
	}
	if !r.Empty() {
		t.Fatal("ring should be empty after full drain")
	}
}

func TestRingOverwriteOnFull(t *testing.T) {
	r := NewRing(3)
	r.Write([]byte("abcd"))
	if !r.Full() {
		t.Fatal("ring should be full")
	}
	dst := make([]byte, 3)
	r.Read(dst)
	if string(dst) != "bcd" {
		t.Fatalf("expected oldest byte dropped, got %q", dst)
	}
}

func TestQueuePushPop(t *testing.T) {
	q := NewQueue[int](2)
	if !q.TryPush(1) {
		t.Fatal("push 1 should succeed")
	}
	if !q.TryPush(2) {
		t.Fatal("push 2 should succeed")
	}
	if q.TryPush(3) {
		t.Fatal("push into full queue should fail")
	}
	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("Pop = %v %v, want 1 true", v, ok)
	}
}

func TestQueueBlockingPop(t *testing.T) {
	q := NewQueue[int](4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, ok := q.Pop()
		if !ok || v != 42 {
			t.Errorf("Pop = %v %v, want 42 true", v, ok)
		}
	}()
	q.TryPush(42)
	wg.Wait()
}

func TestQueueCloseWakesPop(t *testing.T) {
	q := NewQueue[int](1)
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		if ok {
			t.Error("Pop on closed empty queue should report ok=false")
		}
		close(done)
	}()
	q.Close()
	<-done
}

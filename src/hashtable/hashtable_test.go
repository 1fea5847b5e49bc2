package hashtable

import (
	"testing"

	"defs"
	"ustr"
)

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)
	k1 := ustr.Ustr("hello")
	k2 := ustr.Ustr("world")
	if _, ok := ht.Get(k1); ok {
		t.Fatal("unexpected hit on empty table")
	}
	if _, added := ht.Set(k1, 1); !added {
		t.Fatal("first insert should succeed")
	}
	if _, added := ht.Set(k1, 2); added {
		t.Fatal("duplicate insert should report not-added")
	}
	ht.Set(k2, 2)
	if v, ok := ht.Get(k1); !ok || v.(int) != 1 {
		t.Fatalf("Get(k1) = %v, %v", v, ok)
	}
	if v, ok := ht.GetRLock(k2); !ok || v.(int) != 2 {
		t.Fatalf("GetRLock(k2) = %v, %v", v, ok)
	}
	if ht.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", ht.Size())
	}
	ht.Del(k1)
	if _, ok := ht.Get(k1); ok {
		t.Fatal("k1 should be gone after Del")
	}
	if ht.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", ht.Size())
	}
}

func TestPidTidKeys(t *testing.T) {
	ht := MkHash(4)
	ht.Set(defs.Pid_t(1), "proc1")
	ht.Set(defs.Tid_t(7), "thread7")
	if v, ok := ht.Get(defs.Pid_t(1)); !ok || v.(string) != "proc1" {
		t.Fatalf("Pid_t lookup failed: %v %v", v, ok)
	}
	if v, ok := ht.Get(defs.Tid_t(7)); !ok || v.(string) != "thread7" {
		t.Fatalf("Tid_t lookup failed: %v %v", v, ok)
	}
}

func TestElemsAndIter(t *testing.T) {
	ht := MkHash(4)
	ht.Set(ustr.Ustr("a"), 1)
	ht.Set(ustr.Ustr("b"), 2)
	if len(ht.Elems()) != 2 {
		t.Fatalf("Elems() len = %d, want 2", len(ht.Elems()))
	}
	seen := 0
	ht.Iter(func(k, v interface{}) bool {
		seen++
		return false
	})
	if seen != 2 {
		t.Fatalf("Iter visited %d, want 2", seen)
	}
}

package catalog

import "testing"

func TestStoreReplaceDiffsAddedRemovedReplaced(t *testing.T) {
	s := NewStore[int]()
	added, removed, replaced := s.Replace(map[string]int{"a": 1, "b": 2}, nil)
	if len(added) != 2 || len(removed) != 0 || len(replaced) != 0 {
		t.Fatalf("expected 2 added on first load, got added=%v removed=%v replaced=%v", added, removed, replaced)
	}

	added, removed, replaced = s.Replace(map[string]int{"a": 1, "c": 3}, func(x, y int) bool { return x == y })
	if len(added) != 1 || added[0] != "c" {
		t.Errorf("expected c added, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "b" {
		t.Errorf("expected b removed, got %v", removed)
	}
	if len(replaced) != 0 {
		t.Errorf("expected a unchanged (equal), got replaced=%v", replaced)
	}
}

func TestStoreGetAndAll(t *testing.T) {
	s := NewStore[string]()
	s.Replace(map[string]string{"x": "hello"}, nil)

	v, ok := s.Get("x")
	if !ok || v != "hello" {
		t.Fatalf("expected x=hello, got %q ok=%v", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("expected missing key to report not found")
	}
	if len(s.All()) != 1 {
		t.Errorf("expected snapshot of size 1, got %d", len(s.All()))
	}
}

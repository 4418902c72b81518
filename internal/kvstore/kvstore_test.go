package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/relayforge/relay/internal/errs"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCreateGet(t *testing.T) {
	s, err := New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Create("ABC-1", record{Name: "x", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var got record
	if err := s.Get("ABC-1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "x" || got.Count != 1 {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s, _ := New(t.TempDir(), 0o700)
	_ = s.Create("ABC-1", record{Name: "x"})

	err := s.Create("ABC-1", record{Name: "y"})
	if !errs.Is(err, errs.AlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := New(t.TempDir(), 0o700)
	var got record
	err := s.Get("missing", &got)
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestInvalidKey(t *testing.T) {
	s, _ := New(t.TempDir(), 0o700)
	err := s.Put("../escape", record{})
	if !errs.Is(err, errs.ValidationError) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := New(t.TempDir(), 0o700)
	_ = s.Create("x", record{})
	if err := s.Delete("x"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete("x"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestListSorted(t *testing.T) {
	s, _ := New(t.TempDir(), 0o700)
	_ = s.Put("b", record{})
	_ = s.Put("a", record{})
	_ = s.Put("c", record{})

	keys, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("index %d: got %s want %s", i, keys[i], k)
		}
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, 0o700)
	_ = s.Put("x", record{Name: "first"})
	_ = s.Put("x", record{Name: "second"})

	var got record
	_ = s.Get("x", &got)
	if got.Name != "second" {
		t.Errorf("expected overwritten value, got %+v", got)
	}

	// no stray .tmp file left behind
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("expected no leftover temp files, found %v", matches)
	}
}

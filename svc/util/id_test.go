package util

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestGenIDShape(t *testing.T) {
	id, err := GenID(func(string) (bool, error) { return false, nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 11 {
		t.Errorf("expected 11 chars, got %d (%q)", len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune(base62Chars, r) {
			t.Errorf("non-base62 rune %q in %q", r, id)
		}
	}
}

func TestGenIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenID(func(string) (bool, error) { return false, nil })
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestGenIDRetriesOnCollision(t *testing.T) {
	calls := 0
	id, err := GenID(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || calls != 3 {
		t.Errorf("expected success on third attempt, calls=%d id=%q", calls, id)
	}
}

func TestGenIDGivesUpAfterFiveCollisions(t *testing.T) {
	if _, err := GenID(func(string) (bool, error) { return true, nil }); err == nil {
		t.Error("expected collision error")
	}
}

func TestGenIDPropagatesExistsError(t *testing.T) {
	boom := errors.New("db down")
	_, err := GenID(func(string) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}

package svc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/db"
)

func seedPaste(t *testing.T, sqlDB *db.SQLite, n int) {
	t.Helper()
	err := sqlDB.CreatePaste(context.Background(), &domain.Paste{
		ID:        fmt.Sprintf("p%d", n),
		Title:     fmt.Sprintf("paste %d", n),
		Content:   "content",
		Author:    domain.AnonymousAuthor,
		CreatedAt: time.Now().Add(-time.Hour).Add(time.Duration(n) * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListingsServesCachedSlot(t *testing.T) {
	sqlDB := newTestDB(t)
	for i := 1; i <= 3; i++ {
		seedPaste(t, sqlDB, i)
	}
	slot := cache.NewHomeSlot(time.Minute)
	h := NewHome(sqlDB, slot, testCfg())
	ctx := context.Background()

	first, err := h.Listings(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(first))
	}

	// A paste created behind the cache's back stays invisible until the
	// slot expires or is invalidated.
	seedPaste(t, sqlDB, 4)
	second, err := h.Listings(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 3 {
		t.Errorf("cached listing should be unchanged, got %d entries", len(second))
	}

	h.Invalidate()
	third, err := h.Listings(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 4 {
		t.Errorf("after invalidation expected 4, got %d", len(third))
	}
	if third[0].ID != "p4" {
		t.Errorf("newest paste should lead, got %q", third[0].ID)
	}
}

func TestListingsQueryBypassesSlot(t *testing.T) {
	sqlDB := newTestDB(t)
	seedPaste(t, sqlDB, 1)
	seedPaste(t, sqlDB, 2)
	slot := cache.NewHomeSlot(time.Minute)
	h := NewHome(sqlDB, slot, testCfg())
	ctx := context.Background()

	// Warm the slot with the full listing.
	if _, err := h.Listings(ctx, ""); err != nil {
		t.Fatal(err)
	}

	got, err := h.Listings(ctx, "paste 1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("search should hit storage, got %d results", len(got))
	}
	// And a search never overwrites the cached homepage.
	full, err := h.Listings(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 2 {
		t.Errorf("homepage slot clobbered by search: %d entries", len(full))
	}
}

func TestListingsExpiry(t *testing.T) {
	sqlDB := newTestDB(t)
	seedPaste(t, sqlDB, 1)
	slot := cache.NewHomeSlot(10 * time.Millisecond)
	h := NewHome(sqlDB, slot, testCfg())
	ctx := context.Background()

	if _, err := h.Listings(ctx, ""); err != nil {
		t.Fatal(err)
	}
	seedPaste(t, sqlDB, 2)
	time.Sleep(20 * time.Millisecond)

	got, err := h.Listings(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expired slot should recompute, got %d", len(got))
	}
}

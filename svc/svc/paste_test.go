package svc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/pkg/errors"
)

func TestCreateValidation(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	ctx := context.Background()

	cases := []struct {
		name   string
		params domain.CreateParams
		want   error
	}{
		{"empty title", domain.CreateParams{Title: "", Body: "b"}, domain.ErrTitleRequired},
		{"whitespace title", domain.CreateParams{Title: "   ", Body: "b"}, domain.ErrTitleRequired},
		{"long title", domain.CreateParams{Title: strings.Repeat("x", 101), Body: "b"}, domain.ErrTitleTooLong},
		{"empty body", domain.CreateParams{Title: "t", Body: ""}, domain.ErrContentRequired},
		{"long body", domain.CreateParams{Title: "t", Body: strings.Repeat("x", 10001)}, domain.ErrContentTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Create(ctx, tc.params); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateBoundsAreInclusive(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	ctx := context.Background()
	paste, err := p.Create(ctx, domain.CreateParams{
		Title: strings.Repeat("t", 100),
		Body:  strings.Repeat("b", 10000),
	})
	if err != nil {
		t.Fatalf("max-length paste should be accepted: %v", err)
	}
	if paste.ID == "" {
		t.Error("empty id")
	}
}

func TestCreateDefaultsToAnonymous(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	paste, err := p.Create(context.Background(), domain.CreateParams{Title: "t", Body: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if paste.Author != domain.AnonymousAuthor {
		t.Errorf("got author %q", paste.Author)
	}
}

func TestCreateInvalidatesHomeSlot(t *testing.T) {
	p, home := newTestPaste(t, newTestDB(t))
	home.Set([]domain.PasteListing{{ID: "stale"}})
	if _, err := p.Create(context.Background(), domain.CreateParams{Title: "t", Body: "b", Author: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := home.Get(); ok {
		t.Error("creation should invalidate the homepage slot")
	}
}

func TestGetRoundTripAndCache(t *testing.T) {
	sqlDB := newTestDB(t)
	p, _ := newTestPaste(t, sqlDB)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Title: "hello", Body: "world", Author: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "hello" || got.Content != "world" {
		t.Errorf("got %+v", got)
	}
	// Second read comes from the LRU; same data either way.
	got2, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got2.ID != created.ID {
		t.Errorf("got %q", got2.ID)
	}
}

func TestGetNotFound(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	if _, err := p.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestAddCommentValidation(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Title: "t", Body: "b"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.AddComment(ctx, created.ID, "bob", "   "); !errors.Is(err, domain.ErrCommentRequired) {
		t.Errorf("got %v", err)
	}
	if _, err := p.AddComment(ctx, created.ID, "bob", strings.Repeat("x", 1001)); !errors.Is(err, domain.ErrCommentTooLong) {
		t.Errorf("got %v", err)
	}
	if _, err := p.AddComment(ctx, "missing", "bob", "hi"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestAddCommentVisibleOnNextGet(t *testing.T) {
	p, _ := newTestPaste(t, newTestDB(t))
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Title: "t", Body: "b"})
	if err != nil {
		t.Fatal(err)
	}
	// Warm the cache, then comment; the comment must still show up.
	if _, err := p.Get(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	c, err := p.AddComment(ctx, created.ID, "", "nice paste")
	if err != nil {
		t.Fatal(err)
	}
	if c.Author != domain.AnonymousAuthor {
		t.Errorf("got author %q", c.Author)
	}

	got, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Comments) != 1 || got.Comments[0].Content != "nice paste" {
		t.Errorf("comment not visible after add: %+v", got.Comments)
	}
}

func TestRecordViewEventuallyLands(t *testing.T) {
	sqlDB := newTestDB(t)
	p, _ := newTestPaste(t, sqlDB)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Title: "t", Body: "b"})
	if err != nil {
		t.Fatal(err)
	}

	p.RecordView(created.ID, "1.2.3.4")
	p.RecordView(created.ID, "1.2.3.4")

	// Poll storage directly; the worker commits in the background.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := sqlDB.GetPaste(ctx, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Views) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 view, got %d", len(got.Views))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestShutdownDrainsViewQueue(t *testing.T) {
	sqlDB := newTestDB(t)
	p, _ := newTestPaste(t, sqlDB)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Title: "t", Body: "b"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		p.RecordView(created.ID, "10.0.0.1")
	}
	p.Shutdown()

	got, err := sqlDB.GetPaste(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Views) != 1 {
		t.Errorf("expected exactly 1 deduped view after drain, got %d", len(got.Views))
	}
	// A view recorded after shutdown is dropped, not queued.
	p.RecordView(created.ID, "10.0.0.2")
}

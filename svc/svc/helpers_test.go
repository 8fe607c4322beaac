package svc

import (
	"fmt"
	"testing"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/svc/auth"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/db"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Environment:    "test",
		MaxTitleLen:    100,
		MaxBodyLen:     10000,
		MaxCommentLen:  1000,
		MaxUsernameLen: 50,
		MinPasswordLen: 6,
		DefaultGroup:   "Member",
		NeutralColor:   "var(--accent)",
		HomeCacheTTL:   10 * time.Second,
		HomePageSize:   20,
		LRUCacheSize:   100,
		GroupCacheTTL:  time.Minute,
		ViewWorkers:    2,
	}
}

func newTestDB(t *testing.T) *db.SQLite {
	t.Helper()
	dsn := fmt.Sprintf("file:svcdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	s, err := db.NewSQLiteWithConfig(dsn, 10, 5, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLRU(t *testing.T) *cache.LRU {
	t.Helper()
	l, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func newTestHasher(t *testing.T) *auth.Hasher {
	t.Helper()
	// Cheapest parameters the hasher accepts; tests exercise flow, not cost.
	h, err := auth.NewHasher(1, 8*1024, 1, []byte("test-pepper-0123456789abcdef0123"))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func newTestPaste(t *testing.T, sqlDB *db.SQLite) (*Paste, *cache.HomeSlot) {
	t.Helper()
	home := cache.NewHomeSlot(10 * time.Second)
	p := NewPaste(sqlDB, newTestLRU(t), home, testCfg())
	t.Cleanup(p.Shutdown)
	return p, home
}

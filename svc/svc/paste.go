package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/metrics"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/YanivGeorgePerez/dapim/svc/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// pasteCacheTTL bounds how stale a cached paste can get while views and
// comments keep landing in storage.
const pasteCacheTTL = 10 * time.Second

type viewJob struct {
	pasteID string
	ip      string
}

type Paste struct {
	db           *db.SQLite
	lru          *cache.LRU
	home         *cache.HomeSlot
	cfg          *cfg.Cfg
	viewQueue    chan viewJob
	viewWorkerWg sync.WaitGroup
	shutdown     atomic.Bool
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, home *cache.HomeSlot, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || home == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru, home, or cfg)")
	}
	p := &Paste{
		db:        sqlDB,
		lru:       lru,
		home:      home,
		cfg:       c,
		viewQueue: make(chan viewJob, c.ViewWorkers*100),
	}
	p.startWorkers(c.ViewWorkers)
	return p
}

func (p *Paste) startWorkers(n int) {
	for i := 0; i < n; i++ {
		p.viewWorkerWg.Add(1)
		go p.viewWorker()
	}
}

func (p *Paste) viewWorker() {
	defer p.viewWorkerWg.Done()
	defer func() {
		if r := recover(); r != nil {
			util.Error().Interface("panic", r).Msg("viewWorker panicked")
		}
	}()
	// Runs off the shutdown context, not the request context, so a view
	// accepted into the queue still commits after the client went away.
	for job := range p.viewQueue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		inserted, err := p.db.AddView(ctx, job.pasteID, job.ip)
		cancel()
		if err != nil {
			util.Warn().Err(err).Str("id", job.pasteID).Msg("failed to record view")
			continue
		}
		if inserted {
			p.lru.Delete(job.pasteID)
			metrics.PasteViewed.Inc()
		}
	}
}

// Shutdown stops accepting new work and drains the view queue.
func (p *Paste) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(p.viewQueue)
	done := make(chan struct{})
	go func() {
		p.viewWorkerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("view workers didn't stop in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// Create validates and stores a new paste, then clears the homepage cache
// slot so the paste is visible immediately.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	title := strings.TrimSpace(params.Title)
	body := strings.TrimSpace(params.Body)
	if title == "" {
		return nil, domain.ErrTitleRequired
	}
	if len(title) > p.cfg.MaxTitleLen {
		return nil, domain.ErrTitleTooLong
	}
	if body == "" {
		return nil, domain.ErrContentRequired
	}
	if len(body) > p.cfg.MaxBodyLen {
		return nil, domain.ErrContentTooLong
	}
	author := params.Author
	if author == "" {
		author = domain.AnonymousAuthor
	}
	id, err := util.GenID(func(id string) (bool, error) {
		return p.db.PasteExists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	paste := &domain.Paste{
		ID:        id,
		Title:     title,
		Content:   body,
		Author:    author,
		CreatedAt: time.Now(),
		Comments:  []domain.Comment{},
		Views:     []string{},
	}
	if err := p.db.CreatePaste(ctx, paste); err != nil {
		return nil, err
	}
	p.lru.Set(ctx, paste, pasteCacheTTL)
	p.home.Invalidate()
	metrics.PasteCreated.Inc()
	return paste, nil
}

func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if paste := p.lru.Get(ctx, id); paste != nil {
		metrics.CacheHits.Inc()
		return paste, nil
	}
	metrics.CacheMisses.Inc()
	paste, err := p.db.GetPaste(ctx, id)
	if err != nil {
		return nil, err
	}
	p.lru.Set(ctx, paste, pasteCacheTTL)
	return paste, nil
}

func (p *Paste) ListRecent(ctx context.Context, limit int) ([]domain.Paste, error) {
	return p.db.ListRecent(ctx, limit)
}

func (p *Paste) Search(ctx context.Context, query string, limit int) ([]domain.Paste, error) {
	return p.db.Search(ctx, query, limit)
}

func (p *Paste) ListByAuthor(ctx context.Context, author string) ([]domain.Paste, error) {
	return p.db.ListByAuthor(ctx, author)
}

// RecordView queues a view for the worker pool. Dedup by IP happens at the
// storage layer; a full queue drops the recording rather than stalling the
// request.
func (p *Paste) RecordView(id, ip string) {
	if p.shutdown.Load() {
		return
	}
	select {
	case p.viewQueue <- viewJob{pasteID: id, ip: ip}:
	default:
		util.Warn().Str("id", id).Msg("view queue full, dropping recording")
	}
}

// AddComment appends a comment to a paste. A missing paste surfaces as
// ErrPasteNotFound without mutating anything.
func (p *Paste) AddComment(ctx context.Context, pasteID, author, content string) (*domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrCommentRequired
	}
	if len(content) > p.cfg.MaxCommentLen {
		return nil, domain.ErrCommentTooLong
	}
	if author == "" {
		author = domain.AnonymousAuthor
	}
	comment := &domain.Comment{
		ID:        uuid.New().String(),
		Author:    author,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := p.db.AddComment(ctx, pasteID, comment); err != nil {
		return nil, err
	}
	p.lru.Delete(pasteID)
	metrics.CommentAdded.Inc()
	return comment, nil
}

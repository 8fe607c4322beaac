package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/pkg/secrets"
	"github.com/YanivGeorgePerez/dapim/svc/api"
	"github.com/YanivGeorgePerez/dapim/svc/auth"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/captcha"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/YanivGeorgePerez/dapim/svc/lim"
	"github.com/YanivGeorgePerez/dapim/svc/session"
	"github.com/YanivGeorgePerez/dapim/svc/svc"
	"github.com/YanivGeorgePerez/dapim/svc/util"
)

// seedGroups are installed on first boot against an empty groups table.
var seedGroups = []domain.Group{
	{Name: "Admin", Color: "#FF0000", Permissions: []string{domain.WildcardPermission}},
	{Name: "Moderator", Color: "#00CCFF", Permissions: []string{"delete_paste", "delete_comment", "ban_user"}},
	{Name: "Member", Color: "#CCCCCC", Permissions: []string{}},
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "dapim.db"
		}
		sqlDB, err := db.NewSQLite(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer sqlDB.Close()
		if err := sqlDB.Ping(ctx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting dapim")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secretStore, err := secrets.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secret store")
		os.Exit(1)
	}

	pepper := []byte(c.Pepper.Value())
	if c.PepperFromStore {
		v, err := secretStore.GetSecret(ctx, "PEPPER")
		if err != nil {
			util.Fatal().Err(err).Msg("failed to load pepper from secret store")
			os.Exit(1)
		}
		pepper = []byte(v)
	}

	captchaSecret := c.CaptchaSecret.Value()
	if c.CaptchaFromStore {
		v, err := secretStore.GetSecret(ctx, "RECAPTCHA_SECRET")
		if err != nil {
			util.Fatal().Err(err).Msg("failed to load captcha secret from secret store")
			os.Exit(1)
		}
		captchaSecret = v
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	if err := sqlDB.SeedGroups(ctx, seedGroups); err != nil {
		util.Fatal().Err(err).Msg("failed to seed groups")
		os.Exit(1)
	}

	var rdb *db.Redis
	var sessions session.Store
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production when configured")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, falling back to in-memory sessions")
		}
	}
	if rdb != nil {
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, c.SessionMaxAge)
		util.Info().Msg("redis session store enabled")
	} else {
		sessions = session.NewMemory()
		util.Info().Msg("in-memory session store enabled")
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	homeSlot := cache.NewHomeSlot(c.HomeCacheTTL)

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}

	var verifier captcha.Verifier = captcha.Disabled{}
	if captchaSecret != "" {
		verifier, err = captcha.NewGoogle(captchaSecret, c.CaptchaVerifyURL, c.CaptchaTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize captcha verifier")
			os.Exit(1)
		}
		util.Info().Msg("captcha verification enabled")
	} else {
		util.Warn().Msg("captcha verification disabled")
	}

	pasteSvc := svc.NewPaste(sqlDB, lruCache, homeSlot, c)
	homeSvc := svc.NewHome(sqlDB, homeSlot, c)
	authSvc := svc.NewAuth(sqlDB, hasher, c)
	permSvc := svc.NewPerm(sqlDB, c.GroupCacheTTL)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	defer limiter.Stop()

	server := api.NewServer(c, api.Deps{
		Paste:    pasteSvc,
		Home:     homeSvc,
		Auth:     authSvc,
		Perm:     permSvc,
		Sessions: sessions,
		Captcha:  verifier,
		Lim:      limiter,
		DB:       sqlDB,
		RDB:      rdb,
	})

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)

	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	close(quitWAL)
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

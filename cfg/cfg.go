package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port        string
	Environment string
	LogLevel    string

	DatabasePath   string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration

	RedisURL      string
	RedisTLS      bool
	RedisUsername string
	RedisPassword Secret
	RedisTimeout  time.Duration

	SessionMaxAge time.Duration

	DefaultGroup        string
	CreateRequiresLogin bool
	NeutralColor        string

	MaxTitleLen    int
	MaxBodyLen     int
	MaxCommentLen  int
	MaxUsernameLen int
	MinPasswordLen int

	HomeCacheTTL  time.Duration
	HomePageSize  int
	LRUCacheSize  int
	GroupCacheTTL time.Duration

	Argon2Time        uint32
	Argon2Memory      uint32
	Argon2Parallelism uint8
	Pepper            Secret
	PepperFromStore   bool

	CaptchaSiteKey   string
	CaptchaSecret    Secret
	CaptchaFromStore bool
	CaptchaVerifyURL string
	CaptchaTimeout   time.Duration

	RateLimit      RateLimitCfg
	TrustedProxies []string

	MetricsUser string
	MetricsPass Secret

	ViewWorkers    int
	ContextTimeout time.Duration
}

type RateLimitCfg struct {
	RPM   int
	Burst int
}

func Load() (*Cfg, error) {
	// Best effort; production configs come from the real environment.
	_ = godotenv.Load()

	c := &Cfg{}
	c.Port = getEnv("PORT", "3000")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "dapim.db")

	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 50)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.SessionMaxAge, err = getDuration("SESSION_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	c.DefaultGroup = getEnv("DEFAULT_GROUP", "Member")
	c.CreateRequiresLogin = getEnv("CREATE_REQUIRES_LOGIN", "false") == "true"
	c.NeutralColor = getEnv("NEUTRAL_COLOR", "var(--accent)")

	c.MaxTitleLen, err = getInt("MAX_TITLE_LEN", 100)
	if err != nil {
		return nil, err
	}
	c.MaxBodyLen, err = getInt("MAX_BODY_LEN", 10000)
	if err != nil {
		return nil, err
	}
	c.MaxCommentLen, err = getInt("MAX_COMMENT_LEN", 1000)
	if err != nil {
		return nil, err
	}
	c.MaxUsernameLen, err = getInt("MAX_USERNAME_LEN", 50)
	if err != nil {
		return nil, err
	}
	c.MinPasswordLen, err = getInt("MIN_PASSWORD_LEN", 6)
	if err != nil {
		return nil, err
	}

	c.HomeCacheTTL, err = getDuration("HOME_CACHE_TTL", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.HomePageSize, err = getInt("HOME_PAGE_SIZE", 20)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.GroupCacheTTL, err = getDuration("GROUP_CACHE_TTL", 1*time.Minute)
	if err != nil {
		return nil, err
	}

	c.Argon2Time, err = getUint32("ARGON2_TIME", 2)
	if err != nil {
		return nil, err
	}
	c.Argon2Memory, err = getUint32("ARGON2_MEMORY", 64*1024)
	if err != nil {
		return nil, err
	}
	p, err := getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.PepperFromStore = getEnv("PEPPER_FROM_STORE", "false") == "true"

	c.CaptchaSiteKey = getEnv("RECAPTCHA_SITE_KEY", "")
	c.CaptchaSecret = NewSecret(getEnv("RECAPTCHA_SECRET", ""))
	c.CaptchaFromStore = getEnv("RECAPTCHA_FROM_STORE", "false") == "true"
	c.CaptchaVerifyURL = getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	c.CaptchaTimeout, err = getDuration("RECAPTCHA_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})

	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))

	c.ViewWorkers, err = getInt("VIEW_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.DefaultGroup == "" {
		return errors.New("DEFAULT_GROUP is required")
	}
	if c.MaxTitleLen <= 0 || c.MaxBodyLen <= 0 || c.MaxCommentLen <= 0 {
		return errors.New("MAX_TITLE_LEN, MAX_BODY_LEN and MAX_COMMENT_LEN must be positive")
	}
	if c.MinPasswordLen < 1 {
		return errors.New("MIN_PASSWORD_LEN must be positive")
	}
	if c.HomeCacheTTL <= 0 {
		return errors.New("HOME_CACHE_TTL must be positive")
	}
	if c.HomePageSize <= 0 || c.HomePageSize > 1000 {
		return errors.New("HOME_PAGE_SIZE must be between 1 and 1000")
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.SessionMaxAge < time.Minute {
		return errors.New("SESSION_MAX_AGE must be at least 1 minute")
	}
	if c.Argon2Time == 0 {
		return errors.New("ARGON2_TIME must be positive")
	}
	if c.Argon2Memory < 8*1024 {
		return errors.New("ARGON2_MEMORY must be >= 8192 KiB")
	}
	if c.Argon2Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if !c.PepperFromStore && len(c.Pepper.Value()) < 32 {
			return errors.New("PEPPER must be at least 32 bytes in production (or set PEPPER_FROM_STORE)")
		}
		if !c.CaptchaFromStore && c.CaptchaSecret.Value() == "" {
			return errors.New("RECAPTCHA_SECRET is required in production (or set RECAPTCHA_FROM_STORE)")
		}
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	if c.ViewWorkers <= 0 {
		return errors.New("VIEW_WORKERS must be positive")
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
	c.CaptchaSecret.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getUint32(key string, fallback uint32) (uint32, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(v), nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

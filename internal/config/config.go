package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Ownership OwnershipConfig `yaml:"ownership"`
	Sprites   SpritesConfig   `yaml:"sprites"`
	App       AppConfig       `yaml:"app"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	AllowOrigins []string      `yaml:"allow_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"` // #nosec G117 -- configuration secret field.
	BcryptCost    int           `yaml:"bcrypt_cost"`
	MinDisplay    time.Duration `yaml:"min_display"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

type UploadsConfig struct {
	Method string `yaml:"method"`
	// MaxSize caps each mirrored sprite in bytes.
	MaxSize int64              `yaml:"max_size"`
	Local   UploadsLocalConfig `yaml:"local"`
	S3      UploadsS3Config    `yaml:"s3"`
}

type UploadsLocalConfig struct {
	Directory string `yaml:"directory"`
}

type UploadsS3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PublicURL       string `yaml:"public_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"` // #nosec G117 -- configuration secret field.
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
}

type ProvidersConfig struct {
	PokeAPI PokeAPIConfig `yaml:"pokeapi"`
}

type PokeAPIConfig struct {
	BaseURL           string `yaml:"base_url"`
	Limit             int    `yaml:"limit"`
	SpriteURLTemplate string `yaml:"sprite_url_template"`
}

type CacheConfig struct {
	Provider  string         `yaml:"provider"`
	Directory string         `yaml:"directory"`
	TTL       CacheTTLConfig `yaml:"ttl"`
	Redis     RedisConfig    `yaml:"redis"`
}

// CacheTTLConfig: Remote covers catalog listings, Default covers recorded
// upstream misses such as absent sprites.
type CacheTTLConfig struct {
	Default time.Duration `yaml:"default"`
	Remote  time.Duration `yaml:"remote"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"` // #nosec G117 -- configuration secret field.
	DB       int    `yaml:"db"`
	UseTLS   bool   `yaml:"tls"`
}

type OwnershipConfig struct {
	Provider string      `yaml:"provider"`
	Redis    RedisConfig `yaml:"redis"`
}

type SpritesConfig struct {
	Mirror bool `yaml:"mirror"`
}

type AppConfig struct {
	Name           string        `yaml:"name"`
	EmbedAssets    bool          `yaml:"embed_assets"`
	SearchDebounce time.Duration `yaml:"search_debounce"`
}

const (
	defaultPokeAPIBaseURL    = "https://pokeapi.co/api/v2"
	defaultPokeAPILimit      = 1025
	defaultSpriteURLTemplate = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/%d.png"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			AllowOrigins: []string{"http://localhost:*"},
		},
		Database: DatabaseConfig{
			Path: "data/binder.db",
		},
		Auth: AuthConfig{
			SessionSecret: "change-me-in-production",
			BcryptCost:    12,
			MinDisplay:    800 * time.Millisecond,
			IdleTimeout:   3 * time.Hour,
		},
		Uploads: UploadsConfig{
			Method:  "local",
			MaxSize: 8 * 1024 * 1024, // 8MB
			Local: UploadsLocalConfig{
				Directory: "data/media",
			},
		},
		Providers: ProvidersConfig{
			PokeAPI: PokeAPIConfig{
				BaseURL:           defaultPokeAPIBaseURL,
				Limit:             defaultPokeAPILimit,
				SpriteURLTemplate: defaultSpriteURLTemplate,
			},
		},
		Cache: CacheConfig{
			Provider: "sqlite",
			TTL: CacheTTLConfig{
				Default: 24 * time.Hour,
				Remote:  7 * 24 * time.Hour,
			},
		},
		Ownership: OwnershipConfig{
			Provider: "sqlite",
		},
		App: AppConfig{
			Name:           "Binder",
			EmbedAssets:    true,
			SearchDebounce: 300 * time.Millisecond,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	root, err := os.OpenRoot(filepath.Dir(path))
	if err == nil {
		defer root.Close()
		if _, err := root.Stat(filepath.Base(path)); err == nil {
			file, err := root.Open(filepath.Base(path))
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("applying env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

type Overrides struct {
	ServerAddress     *string
	DatabasePath      *string
	AuthSessionSecret *string
	AuthBcryptCost    *int
	AuthMinDisplay    *time.Duration
	UploadsMethod     *string
	UploadsLocalDir   *string
	AppName           *string
	AppEmbedAssets    *bool
	AppSearchDebounce *time.Duration
	PokeAPIBaseURL    *string
	PokeAPILimit      *int
	CacheTTLDefault   *time.Duration
	CacheTTLRemote    *time.Duration
	CacheDirectory    *string
	CacheProvider     *string
	OwnershipProvider *string
	SpritesMirror     *bool
}

func (c *Config) ApplyOverrides(overrides Overrides) error {
	if overrides.ServerAddress != nil {
		c.Server.Address = *overrides.ServerAddress
	}
	if overrides.DatabasePath != nil {
		c.Database.Path = *overrides.DatabasePath
	}
	if overrides.AuthSessionSecret != nil {
		c.Auth.SessionSecret = *overrides.AuthSessionSecret
	}
	if overrides.AuthBcryptCost != nil {
		c.Auth.BcryptCost = *overrides.AuthBcryptCost
	}
	if overrides.AuthMinDisplay != nil {
		c.Auth.MinDisplay = *overrides.AuthMinDisplay
	}
	if overrides.UploadsMethod != nil {
		c.Uploads.Method = *overrides.UploadsMethod
	}
	if overrides.UploadsLocalDir != nil {
		c.Uploads.Local.Directory = *overrides.UploadsLocalDir
	}
	if overrides.AppName != nil {
		c.App.Name = *overrides.AppName
	}
	if overrides.AppEmbedAssets != nil {
		c.App.EmbedAssets = *overrides.AppEmbedAssets
	}
	if overrides.AppSearchDebounce != nil {
		c.App.SearchDebounce = *overrides.AppSearchDebounce
	}
	if overrides.PokeAPIBaseURL != nil {
		c.Providers.PokeAPI.BaseURL = *overrides.PokeAPIBaseURL
	}
	if overrides.PokeAPILimit != nil {
		c.Providers.PokeAPI.Limit = *overrides.PokeAPILimit
	}
	if overrides.CacheTTLDefault != nil {
		c.Cache.TTL.Default = *overrides.CacheTTLDefault
	}
	if overrides.CacheTTLRemote != nil {
		c.Cache.TTL.Remote = *overrides.CacheTTLRemote
	}
	if overrides.CacheDirectory != nil {
		c.Cache.Directory = *overrides.CacheDirectory
	}
	if overrides.CacheProvider != nil {
		c.Cache.Provider = *overrides.CacheProvider
	}
	if overrides.OwnershipProvider != nil {
		c.Ownership.Provider = *overrides.OwnershipProvider
	}
	if overrides.SpritesMirror != nil {
		c.Sprites.Mirror = *overrides.SpritesMirror
	}

	return c.validate()
}

func (c *Config) applyEnv() error {
	addressSet := false
	if value, ok := lookupEnv("BINDER_SERVER_ADDRESS"); ok {
		c.Server.Address = value
		addressSet = true
	}
	serverHost, hostSet := lookupEnv("BINDER_SERVER_HOST")
	serverPort, portSet := lookupEnv("BINDER_SERVER_PORT")
	if value, ok := lookupEnv("HOST"); ok && !hostSet {
		serverHost = value
		hostSet = true
	}
	if value, ok := lookupEnv("PORT"); ok && !portSet {
		serverPort = value
		portSet = true
	}
	if !addressSet && (hostSet || portSet) {
		if serverHost == "" {
			serverHost = "0.0.0.0"
		}
		if serverPort == "" {
			serverPort = "8080"
		}
		c.Server.Address = fmt.Sprintf("%s:%s", serverHost, serverPort)
	}
	if value, ok := lookupEnv("BINDER_SERVER_ALLOW_ORIGINS"); ok {
		c.Server.AllowOrigins = splitList(value)
	}
	if err := envDuration("BINDER_SERVER_READ_TIMEOUT", &c.Server.ReadTimeout); err != nil {
		return err
	}
	if err := envDuration("BINDER_SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout); err != nil {
		return err
	}
	if err := envDuration("BINDER_SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_DATABASE_PATH"); ok {
		c.Database.Path = value
	}
	if value, ok := lookupEnv("BINDER_AUTH_SESSION_SECRET"); ok {
		c.Auth.SessionSecret = value
	}
	if err := envInt("BINDER_AUTH_BCRYPT_COST", &c.Auth.BcryptCost); err != nil {
		return err
	}
	if err := envDuration("BINDER_AUTH_MIN_DISPLAY", &c.Auth.MinDisplay); err != nil {
		return err
	}
	if err := envDuration("BINDER_AUTH_IDLE_TIMEOUT", &c.Auth.IdleTimeout); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_METHOD"); ok {
		c.Uploads.Method = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_LOCAL_DIRECTORY"); ok {
		c.Uploads.Local.Directory = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_MAX_SIZE"); ok {
		parsed, err := parseInt64(value)
		if err != nil {
			return fmt.Errorf("BINDER_UPLOADS_MAX_SIZE: %w", err)
		}
		c.Uploads.MaxSize = parsed
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_BUCKET"); ok {
		c.Uploads.S3.Bucket = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_REGION"); ok {
		c.Uploads.S3.Region = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_ENDPOINT"); ok {
		c.Uploads.S3.Endpoint = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_PUBLIC_URL"); ok {
		c.Uploads.S3.PublicURL = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_ACCESS_KEY_ID"); ok {
		c.Uploads.S3.AccessKeyID = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_SECRET_ACCESS_KEY"); ok {
		c.Uploads.S3.SecretAccessKey = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_SESSION_TOKEN"); ok {
		c.Uploads.S3.SessionToken = value
	}
	if value, ok := lookupEnv("BINDER_UPLOADS_S3_PREFIX"); ok {
		c.Uploads.S3.Prefix = value
	}
	if err := envBool("BINDER_UPLOADS_S3_PATH_STYLE", &c.Uploads.S3.PathStyle); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_PROVIDER_POKEAPI_BASE_URL"); ok {
		c.Providers.PokeAPI.BaseURL = value
	}
	if err := envInt("BINDER_PROVIDER_POKEAPI_LIMIT", &c.Providers.PokeAPI.Limit); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_PROVIDER_POKEAPI_SPRITE_URL_TEMPLATE"); ok {
		c.Providers.PokeAPI.SpriteURLTemplate = value
	}
	if err := envDuration("BINDER_CACHE_TTL_DEFAULT", &c.Cache.TTL.Default); err != nil {
		return err
	}
	if err := envDuration("BINDER_CACHE_TTL_REMOTE", &c.Cache.TTL.Remote); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_CACHE_PROVIDER"); ok {
		c.Cache.Provider = value
	}
	if value, ok := lookupEnv("BINDER_CACHE_DIRECTORY"); ok {
		c.Cache.Directory = value
	}
	if value, ok := lookupEnv("BINDER_CACHE_REDIS_URL"); ok {
		c.Cache.Redis.URL = value
	} else if value, ok := lookupEnv("REDIS_URL"); ok {
		c.Cache.Redis.URL = value
	}
	if value, ok := lookupEnv("BINDER_CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = value
	}
	if value, ok := lookupEnv("BINDER_CACHE_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = value
	}
	if err := envInt("BINDER_CACHE_REDIS_DB", &c.Cache.Redis.DB); err != nil {
		return err
	}
	if err := envBool("BINDER_CACHE_REDIS_TLS", &c.Cache.Redis.UseTLS); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_OWNERSHIP_PROVIDER"); ok {
		c.Ownership.Provider = value
	}
	if value, ok := lookupEnv("BINDER_OWNERSHIP_REDIS_URL"); ok {
		c.Ownership.Redis.URL = value
	}
	if value, ok := lookupEnv("BINDER_OWNERSHIP_REDIS_ADDR"); ok {
		c.Ownership.Redis.Addr = value
	}
	if value, ok := lookupEnv("BINDER_OWNERSHIP_REDIS_PASSWORD"); ok {
		c.Ownership.Redis.Password = value
	}
	if err := envInt("BINDER_OWNERSHIP_REDIS_DB", &c.Ownership.Redis.DB); err != nil {
		return err
	}
	if err := envBool("BINDER_OWNERSHIP_REDIS_TLS", &c.Ownership.Redis.UseTLS); err != nil {
		return err
	}
	if err := envBool("BINDER_SPRITES_MIRROR", &c.Sprites.Mirror); err != nil {
		return err
	}
	if value, ok := lookupEnv("BINDER_APP_NAME"); ok {
		c.App.Name = value
	}
	if err := envBool("BINDER_APP_EMBED_ASSETS", &c.App.EmbedAssets); err != nil {
		return err
	}
	if err := envDuration("BINDER_APP_SEARCH_DEBOUNCE", &c.App.SearchDebounce); err != nil {
		return err
	}

	if strings.TrimSpace(c.Cache.Redis.URL) != "" {
		if err := applyRedisURL(&c.Cache.Redis); err != nil {
			return fmt.Errorf("cache %w", err)
		}
	}
	if strings.TrimSpace(c.Ownership.Redis.URL) != "" {
		if err := applyRedisURL(&c.Ownership.Redis); err != nil {
			return fmt.Errorf("ownership %w", err)
		}
	}

	return nil
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func envDuration(key string, target *time.Duration) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = duration
	return nil
}

func envInt(key string, target *int) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func envBool(key string, target *bool) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func parseInt64(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func applyRedisURL(cfg *RedisConfig) error {
	if cfg == nil {
		return nil
	}
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("redis url: missing host")
	}
	if parsed.User != nil {
		password, ok := parsed.User.Password()
		if ok {
			cfg.Password = password
		}
	}
	path := strings.Trim(parsed.Path, "/")
	if path != "" {
		dbIndex, err := strconv.Atoi(path)
		if err != nil {
			return fmt.Errorf("redis url: invalid db index")
		}
		cfg.DB = dbIndex
	}
	query := parsed.Query()
	if value := strings.TrimSpace(query.Get("db")); value != "" {
		dbIndex, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("redis url: invalid db query param")
		}
		cfg.DB = dbIndex
	}
	if value := strings.ToLower(strings.TrimSpace(query.Get("tls"))); value != "" {
		parsedBool, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("redis url: invalid tls query param")
		}
		cfg.UseTLS = parsedBool
	}

	if strings.ToLower(parsed.Scheme) == "rediss" {
		cfg.UseTLS = true
	}
	if cfg.Addr == "" {
		cfg.Addr = parsed.Host
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Auth.SessionSecret == "" || c.Auth.SessionSecret == "change-me-in-production" {
		if os.Getenv("BINDER_ENV") == "production" {
			return fmt.Errorf("session secret must be set in production")
		}
	}
	if c.Auth.MinDisplay < 0 {
		return fmt.Errorf("auth min display must not be negative")
	}
	if c.Auth.IdleTimeout <= 0 {
		c.Auth.IdleTimeout = 3 * time.Hour
	}

	method := strings.ToLower(strings.TrimSpace(c.Uploads.Method))
	if method == "" {
		method = "local"
	}
	c.Uploads.Method = method
	if method != "local" && method != "s3" {
		return fmt.Errorf("uploads method must be local or s3")
	}
	if method == "local" && c.Uploads.Local.Directory == "" {
		return fmt.Errorf("uploads local directory is required")
	}
	if method == "s3" {
		if strings.TrimSpace(c.Uploads.S3.Bucket) == "" {
			return fmt.Errorf("uploads s3 bucket is required")
		}
		if strings.TrimSpace(c.Uploads.S3.Region) == "" {
			return fmt.Errorf("uploads s3 region is required")
		}
		if strings.TrimSpace(c.Uploads.S3.PublicURL) != "" {
			parsed, err := url.Parse(c.Uploads.S3.PublicURL)
			if err != nil || parsed.Host == "" {
				return fmt.Errorf("uploads s3 public url must be a valid url")
			}
			scheme := strings.ToLower(parsed.Scheme)
			if scheme != "http" && scheme != "https" {
				return fmt.Errorf("uploads s3 public url must use http or https")
			}
		}
	}

	pokeapi := &c.Providers.PokeAPI
	if strings.TrimSpace(pokeapi.BaseURL) == "" {
		pokeapi.BaseURL = defaultPokeAPIBaseURL
	}
	if parsed, err := url.Parse(pokeapi.BaseURL); err != nil || parsed.Host == "" {
		return fmt.Errorf("pokeapi base url must be a valid url")
	}
	if pokeapi.Limit <= 0 {
		pokeapi.Limit = defaultPokeAPILimit
	}
	if strings.TrimSpace(pokeapi.SpriteURLTemplate) == "" {
		pokeapi.SpriteURLTemplate = defaultSpriteURLTemplate
	}
	if strings.Count(pokeapi.SpriteURLTemplate, "%d") != 1 {
		return fmt.Errorf("pokeapi sprite url template must contain exactly one %%d")
	}

	cacheProvider := strings.ToLower(strings.TrimSpace(c.Cache.Provider))
	if cacheProvider == "" {
		cacheProvider = "sqlite"
	}
	c.Cache.Provider = cacheProvider
	if cacheProvider != "sqlite" && cacheProvider != "redis" {
		return fmt.Errorf("cache provider must be sqlite or redis")
	}
	if cacheProvider == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return fmt.Errorf("cache redis addr is required")
	}
	if c.Cache.TTL.Default <= 0 {
		c.Cache.TTL.Default = 24 * time.Hour
	}
	if c.Cache.TTL.Remote <= 0 {
		c.Cache.TTL.Remote = 7 * 24 * time.Hour
	}

	ownershipProvider := strings.ToLower(strings.TrimSpace(c.Ownership.Provider))
	if ownershipProvider == "" {
		ownershipProvider = "sqlite"
	}
	c.Ownership.Provider = ownershipProvider
	if ownershipProvider != "sqlite" && ownershipProvider != "redis" {
		return fmt.Errorf("ownership provider must be sqlite or redis")
	}
	if ownershipProvider == "redis" && strings.TrimSpace(c.Ownership.Redis.Addr) == "" {
		return fmt.Errorf("ownership redis addr is required")
	}

	if c.App.SearchDebounce <= 0 {
		c.App.SearchDebounce = 300 * time.Millisecond
	}

	return nil
}

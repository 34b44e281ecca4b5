package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/internal/rate"
	"github.com/halcyon-health/authcore/jwt"
	"github.com/halcyon-health/authcore/password"
	"github.com/halcyon-health/authcore/permission"
	"github.com/halcyon-health/authcore/session"
)

// Builder assembles an [Engine]. Redis, a user store, and an audit store are
// mandatory; everything else has defaults.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users      UserStore
	auditStore audit.Store
	matrix     *permission.Matrix
	seed       []permission.Grant
	logger     *zerolog.Logger

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

func (b *Builder) WithAuditStore(store audit.Store) *Builder {
	b.auditStore = store
	return b
}

// WithMatrix supplies a prebuilt permission matrix. Mutually exclusive with
// WithPermissionSeed; the matrix wins.
func (b *Builder) WithMatrix(m *permission.Matrix) *Builder {
	b.matrix = m
	return b
}

// WithPermissionSeed builds the matrix from the given grants instead of
// [permission.DefaultSeed].
func (b *Builder) WithPermissionSeed(seed []permission.Grant) *Builder {
	b.seed = seed
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// Build validates the configuration and wires the engine. The builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.auditStore == nil {
		return nil, errors.New("audit store required")
	}

	cfg := cloneConfig(b.config)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	matrix := b.matrix
	if matrix == nil {
		seed := b.seed
		if seed == nil {
			seed = permission.DefaultSeed()
		}
		var err error
		matrix, err = permission.NewMatrix(seed)
		if err != nil {
			return nil, err
		}
	}

	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		logger:  logger,
		users:   b.users,
		matrix:  matrix,
		metrics: NewMetrics(cfg.Metrics),
		hasher:  hasher,
		policy:  password.Policy{MinLength: cfg.Password.MinLength},
		tokens:  jm,
		totp:    newTOTPManager(cfg.TOTP),
		sessions: session.NewStore(b.redis, session.Config{
			Prefix:           cfg.Session.RedisPrefix,
			RevokedRetention: cfg.Session.RevokedRetention,
		}),
		limiter: rate.New(b.redis, rate.Config{
			MaxAttempts:      cfg.Lockout.MaxAttempts,
			LockoutDuration:  cfg.Lockout.LockoutDuration,
			EnableIPThrottle: cfg.Lockout.EnableIPThrottle,
			IPMaxAttempts:    cfg.Lockout.IPMaxAttempts,
			IPWindow:         cfg.Lockout.IPWindow,
		}),
		mfaChallenges: newMFAChallengeStore(b.redis),
	}
	engine.recorder = newAuditRecorder(b.auditStore, cfg.Audit, logger, engine.metrics)

	b.built = true
	return engine, nil
}

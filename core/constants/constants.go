package constants

import "time"

// Context keys
const (
	ContextTokenData = "token_data"
)

// Token scopes
const (
	ScopeTokenAccess  = "access"
	ScopeTokenRefresh = "refresh"
)

// Database pool settings
const (
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes
	DatabaseSSLMode         = "disable"
)

// Redis key prefixes
const (
	RedisKeyTokenBlacklist = "token:blacklist:"
)

// Negotiation defaults
const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// How often the expiration sweep runs.
	SweepInterval = 5 * time.Minute
)

// Agent defaults, applied when a user has no stored autonomy settings.
const (
	DefaultAutoAcceptThreshold  = 0.85
	DefaultAutoCounterThreshold = 0.60
	DefaultMaxNegotiationRounds = 5

	// Neutral preference score used when a dimension has never been learned.
	NeutralScore = 0.5

	// EMA learning rate for preference updates.
	LearningRate = 0.2
)

// Asynq task type names
const (
	TaskSweepExpired    = "negotiation:sweep_expired"
	TaskArchiveMessages = "negotiation:archive"
	TaskLearnOutcome    = "preference:learn"
	TaskProcessMessage  = "agent:process_message"
	TaskAgentKickoff    = "agent:kickoff"
)

package config

import "time"

// FileName is the per-repository config file, without extension.
const FileName = "solve"

// EnvPrefix prefixes environment overrides, e.g. SOLVE_AGENT_MODEL.
const EnvPrefix = "SOLVE"

// Agent defaults
const (
	DefaultProvider        = "claude"
	DefaultSkipPermissions = true
)

// Retry defaults
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
)

// Restart defaults
const (
	DefaultMaxIterations       = 5
	DefaultUncommittedPolicy   = "restart"
	DefaultAutoContinueOnLimit = false
	DefaultResetBuffer         = time.Minute
	DefaultMaxResetWait        = 6 * time.Hour
)

// Watch defaults
const (
	DefaultWatchInterval        = 60 * time.Second
	DefaultMaxConsecutiveErrors = 10
)

// GitHub defaults
const (
	DefaultIgnoreSelf = true
)

// Git defaults
const (
	DefaultRemote       = "origin"
	DefaultBranchPrefix = "issue-"
)

// Prompt defaults
const (
	DefaultMaxFeedbackBytes = 16000
	DefaultMaxFilesBytes    = 2000
)

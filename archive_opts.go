package pack

import "log/slog"

// DefaultMaxEntrySize is the default per-read allocation limit (256MB).
const DefaultMaxEntrySize = 256 << 20

// Option configures an Archive at open time.
type Option func(*Archive)

// WithVerifyPolicy sets when payload checksums are validated.
// The default is VerifyOnRead. Directory validation at open time is
// unconditional and not affected by this policy.
func WithVerifyPolicy(p VerifyPolicy) Option {
	return func(a *Archive) {
		a.policy = p
	}
}

// WithMaxEntrySize limits how many bytes a single read may allocate.
// Set to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(a *Archive) {
		a.maxEntrySize = limit
	}
}

// WithLogger sets the logger for reader diagnostics.
// By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = l
	}
}

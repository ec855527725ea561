package common

import "time"

const (
	// CredentialRetention is how long a saved credential record stays
	// usable before Load purges it and treats the user as logged out.
	CredentialRetention = 30 * 24 * time.Hour

	// DefaultPassingThreshold is the pass mark (percent) applied when a
	// quiz carries no passing marks of its own.
	DefaultPassingThreshold = 60
)

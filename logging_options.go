package dynauth

import "github.com/oarkflow/dynauth/logger"

// Logger is re-exported so callers can install one without importing the
// logger package directly.
type Logger = logger.Logger

// WithLogger installs a Logger on the Service via ServiceOption
func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

package lcap

import "github.com/lcap-io/lcapd/internal/constants"

// Re-exported defaults, useful to callers assembling a Config without
// reaching into internal packages.
const (
	DefaultRecBatch       = constants.DefaultRecBatch
	DefaultMaxBuckets     = constants.DefaultMaxBuckets
	DefaultWorkerCount    = constants.DefaultWorkerCount
	MaxMDTCount           = constants.MaxMDTCount
	DefaultConfigPath     = constants.DefaultConfigPath
	DefaultBrokerEndpoint = constants.DefaultBrokerEndpoint
	AnyIndex              = constants.AnyIndex
)

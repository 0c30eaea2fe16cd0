package config

import (
	"time"

	"github.com/dealhound/crawler/internal/schedule"
)

// Documented defaults. The scoring formulas live in code; every numeric
// knob they take lives here and can be overridden by file, environment,
// or flag.
const (
	DefaultLogLevel  = "info"
	DefaultJSONLog   = false
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	DefaultBatchSize   = 50
	DefaultMaxLoad     = 200
	DefaultWorkerCount = 4

	DefaultMinDelay     = 1 * time.Second
	DefaultMaxDelay     = 3 * time.Second
	DefaultFailMinDelay = 5 * time.Second
	DefaultFailMaxDelay = 10 * time.Second

	DefaultBaseInterval = 24 * time.Hour
	DefaultMinInterval  = 4 * time.Hour
	DefaultMaxInterval  = 168 * time.Hour

	DefaultMaxRetries     = 3
	DefaultRetryCount     = 2
	DefaultInterPassDelay = 2 * time.Second

	DefaultHighValueThreshold = 100.0

	DefaultCursorEpsilon    = 0.2
	DefaultCursorSkipRecent = 3
	DefaultFullScanEvery    = 30 * 24 * time.Hour
	DefaultSnapshotPath     = "cursors.json"

	DefaultPoolSize        = 3
	MaxPoolSize            = 32
	DefaultBrowserHeadless = true
	DefaultPageTimeout     = 30 * time.Second

	DefaultHostRPS     = 1.0
	DefaultHostBurst   = 2
	DefaultListingRPS  = 0.5
	DefaultProductRPS  = 2.0
	DefaultScopeBurst  = 2
	DefaultDiscoverMax = 5
)

// DefaultWeights returns the documented scoring weights; they sum to 1.
func DefaultWeights() schedule.Weights {
	return schedule.Weights{
		Price:      0.25,
		Time:       0.20,
		Popularity: 0.25,
		Discount:   0.20,
		Jitter:     0.10,
	}
}

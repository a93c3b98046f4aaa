package pluginmodule

import "time"

// Defaults used when options are not given.
const (
	DefaultErrorBuffer    = 128
	DefaultLoadTimeout    = 60 * time.Second
	priorityDelimiter     = ","
	storeOperationTimeout = 5 * time.Second
)

// Metric results for scans.
const (
	scanPublished = "published"
	scanStale     = "stale"
	scanAbandoned = "abandoned"
)

package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	SourcesDir   string
	Port         string
	APIAccessKey string

	// Collection configuration
	FetchConcurrency int
	FetchTimeout     int     // seconds, per upstream request
	FetchRateLimit   float64 // requests per second, per source
	IncrementalHours int

	// Health monitoring configuration
	HealthConcurrency int
	SlowThresholdMs   int
	HardTimeoutMs     int

	// Schedules (cron expressions)
	IncrementalSchedule string
	HealthSchedule      string

	// Alerting
	AlertWebhookURL string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

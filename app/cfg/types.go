package cfg

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string
	CronSecret        string

	// Outbound email configuration
	SMTPHost      string
	SMTPPort      int
	SMTPLogin     string
	SMTPPassword  string
	SenderAddress string

	// Application metadata
	UserAgent string
	Debug     bool
	Version   string
}

package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./q2kindle.db" description:"Path to the SQLite database file"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background workers for article extraction"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Extraction scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	CronSecret        string `long:"cron-secret" env:"CRON_SECRET" description:"Bearer secret required by the scheduled-send trigger (optional)"`

	// Outbound email configuration
	SMTPHost      string `long:"smtp-host" env:"SMTP_HOST" default:"smtp-relay.brevo.com" description:"SMTP relay host"`
	SMTPPort      int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP relay port"`
	SMTPLogin     string `long:"smtp-login" env:"SMTP_LOGIN" description:"SMTP relay login (required)" required:"true"`
	SMTPPassword  string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP relay password (required)" required:"true"`
	SenderAddress string `long:"sender-address" env:"SENDER_ADDRESS" default:"q2kindle <kindle@q2kindle.com>" description:"Fixed sender identity for outbound mail"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"q2kindle/1.0" description:"User agent string for article fetching"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		CronSecret:        raw.CronSecret,
		SMTPHost:          raw.SMTPHost,
		SMTPPort:          raw.SMTPPort,
		SMTPLogin:         raw.SMTPLogin,
		SMTPPassword:      raw.SMTPPassword,
		SenderAddress:     raw.SenderAddress,
		UserAgent:         raw.UserAgent,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

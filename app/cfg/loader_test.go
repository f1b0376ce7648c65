package cfg

import (
	"testing"
)

func TestGetVersion(t *testing.T) {
	// Test default version
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// This is fine, version could be set at build time
		t.Logf("Version: %s", version)
	}
}

func TestConfigFields(t *testing.T) {
	cfg := &Cfg{
		DBPath:            "./test.db",
		Port:              "8080",
		WorkerCount:       3,
		SchedulerInterval: 60,
		APIAccessKey:      "test-key",
		CronSecret:        "cron-secret",
		SMTPHost:          "smtp-relay.brevo.com",
		SMTPPort:          587,
		SMTPLogin:         "login",
		SMTPPassword:      "password",
		SenderAddress:     "q2kindle <kindle@q2kindle.com>",
		UserAgent:         "Test Agent",
		Debug:             true,
		Version:           "test-version",
	}

	if cfg.DBPath != "./test.db" {
		t.Errorf("Expected db path './test.db', got '%s'", cfg.DBPath)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", cfg.Port)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("Expected worker count 3, got %d", cfg.WorkerCount)
	}
	if cfg.SchedulerInterval != 60 {
		t.Errorf("Expected scheduler interval 60, got %d", cfg.SchedulerInterval)
	}
	if cfg.APIAccessKey != "test-key" {
		t.Errorf("Expected API key 'test-key', got '%s'", cfg.APIAccessKey)
	}
	if cfg.CronSecret != "cron-secret" {
		t.Errorf("Expected cron secret 'cron-secret', got '%s'", cfg.CronSecret)
	}
	if cfg.SMTPHost != "smtp-relay.brevo.com" {
		t.Errorf("Expected SMTP host 'smtp-relay.brevo.com', got '%s'", cfg.SMTPHost)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("Expected SMTP port 587, got %d", cfg.SMTPPort)
	}
	if cfg.SenderAddress != "q2kindle <kindle@q2kindle.com>" {
		t.Errorf("Expected sender address 'q2kindle <kindle@q2kindle.com>', got '%s'", cfg.SenderAddress)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be true")
	}
	if cfg.Version != "test-version" {
		t.Errorf("Expected version 'test-version', got '%s'", cfg.Version)
	}
}

func TestGetPanicsWhenNotLoaded(t *testing.T) {
	saved := globalCfg
	globalCfg = nil
	defer func() {
		globalCfg = saved
		if r := recover(); r == nil {
			t.Error("Expected Get to panic when configuration is not loaded")
		}
	}()

	Get()
}

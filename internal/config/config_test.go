package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults: %v", err)
	}

	if cfg.Scheduler.CheckInterval != 5*time.Minute {
		t.Fatalf("expected default check interval 5m, got %s", cfg.Scheduler.CheckInterval)
	}
	if cfg.Scheduler.OffHoursInterval != 30*time.Minute {
		t.Fatalf("expected default off-hours interval 30m, got %s", cfg.Scheduler.OffHoursInterval)
	}
	if cfg.Engine.NearThresholdPct != 1.0 {
		t.Fatalf("expected default near threshold 1.0, got %v", cfg.Engine.NearThresholdPct)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting should be disabled by default")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Scheduler.OffHoursInterval = time.Minute
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "off_hours_interval") {
		t.Fatalf("short off-hours interval should be rejected, got %v", err)
	}

	cfg = base()
	cfg.Engine.NearThresholdPct = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero near threshold should be rejected")
	}

	cfg = base()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram 启用但缺少 bot_token 时应报错")
	}
	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "chat"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("完整 telegram 配置应通过校验: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("expected config default 500, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("override should win, got %d", got)
	}
}

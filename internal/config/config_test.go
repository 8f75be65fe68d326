package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := []byte(`
is_debug: true
time_zone: Europe/Kyiv
ocpp:
  heartbeat_interval: 60s
commands:
  unlock_timeout: 5s
telegram:
  chat_ids: [100, 200]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	conf, err := GetConfig(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !conf.IsDebug {
		t.Error("expected debug mode")
	}
	if conf.Ocpp.HeartbeatInterval != time.Minute {
		t.Errorf("heartbeat interval = %v", conf.Ocpp.HeartbeatInterval)
	}
	if got := conf.HeartbeatTimeout(); got != 130*time.Second {
		t.Errorf("heartbeat timeout = %v", got)
	}
	if conf.Ocpp.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval default = %v", conf.Ocpp.SweepInterval)
	}
	if conf.Ocpp.Retention != 10*time.Minute {
		t.Errorf("retention default = %v", conf.Ocpp.Retention)
	}
	if conf.Commands.UnlockTimeout != 5*time.Second || conf.Commands.ResetTimeout != 30*time.Second {
		t.Errorf("command timeouts = %v / %v", conf.Commands.UnlockTimeout, conf.Commands.ResetTimeout)
	}
	if len(conf.Telegram.ChatIds) != 2 {
		t.Errorf("chat ids = %v", conf.Telegram.ChatIds)
	}
	if conf.Location().String() != "Europe/Kyiv" {
		t.Errorf("location = %s", conf.Location())
	}
}

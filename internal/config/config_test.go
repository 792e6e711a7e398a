package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{"telegram": {"token": "123:abc", "digest_chat": {"chat_id": -100}}}`

func TestDecodeAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(minimalJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Calendar.Timezone != DefaultTimezone || cfg.Calendar.RestDay != DefaultRestDay {
		t.Fatalf("calendar = %+v", cfg.Calendar)
	}
	if cfg.Digest.Schedule != DefaultDigestSchedule || cfg.Digest.Timezone != DefaultTimezone || !cfg.Digest.IsEnabled() {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Registry.RetryAttempts != 3 || cfg.Registry.DuplicateNames != "allow" {
		t.Fatalf("registry = %+v", cfg.Registry)
	}
	if cfg.Calendar.Rest() != time.Sunday || cfg.Calendar.Location().String() != DefaultTimezone {
		t.Fatalf("calendar resolution: %v %v", cfg.Calendar.Rest(), cfg.Calendar.Location())
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	src := `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  digest_chat:
    chat_id: -100
    thread_id: 7
calendar:
  rest_day: wed
digest:
  enabled: false
storage:
  driver: sqlite
  path: ./data/boilbot.db
`
	cfg, err := Decode("config.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(cfg.Telegram.OwnerUserIDs, []int64{42}) {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Telegram.DigestChat != (ChatRef{ChatID: -100, ThreadID: 7}) {
		t.Fatalf("digest chat = %+v", cfg.Telegram.DigestChat)
	}
	if cfg.Calendar.Rest() != time.Wednesday {
		t.Fatalf("rest = %v", cfg.Calendar.Rest())
	}
	if cfg.Digest.IsEnabled() {
		t.Fatal("digest should be disabled")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "unknown field", src: `{"telegram": {"token": "x"}, "pprof": {}}`, want: "unknown field"},
		{name: "trailing data", src: minimalJSON + `{}`, want: "trailing data"},
		{name: "missing token", src: `{"digest": {"enabled": false}}`, want: "telegram.token"},
		{name: "bad driver", src: `{"telegram": {"token": "x"}, "digest": {"enabled": false}, "storage": {"driver": "redis"}}`, want: "storage.driver"},
		{name: "bad rest day", src: `{"telegram": {"token": "x"}, "digest": {"enabled": false}, "calendar": {"rest_day": "funday"}}`, want: "calendar.rest_day"},
		{name: "digest without chat", src: `{"telegram": {"token": "x"}}`, want: "digest_chat"},
		{name: "bad backoff", src: `{"telegram": {"token": "x"}, "digest": {"enabled": false}, "registry": {"retry_backoff": "soon"}}`, want: "registry.retry_backoff"},
		{name: "bad duplicates", src: `{"telegram": {"token": "x"}, "digest": {"enabled": false}, "registry": {"duplicate_names": "maybe"}}`, want: "duplicate_names"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("config.json", []byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDecodeYAMLRejectsSecondDocument(t *testing.T) {
	t.Parallel()
	src := "telegram:\n  token: x\ndigest:\n  enabled: false\n---\ntelegram:\n  token: y\n"
	if _, err := Decode("config.yml", []byte(src)); err == nil || !strings.Contains(err.Error(), "single document") {
		t.Fatalf("Decode err = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("a.json", []byte(minimalJSON))
	if err != nil {
		t.Fatal(err)
	}
	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"
	newCfg.Storage.Driver = "sqlite"
	newCfg.Telegram.Token = "456:def"

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	if !reflect.DeepEqual(changed, []string{"logging", "storage", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if got := RestartRequired(oldCfg, &newCfg, changed); !reflect.DeepEqual(got, []string{"storage", "telegram"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber did not receive the latest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(minimalJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	updated := `{"telegram": {"token": "123:abc", "digest_chat": {"chat_id": -100}}, "logging": {"level": "debug"}}`
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			if m.Get() != cfg {
				t.Fatal("published config not committed")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// rewrite until the watcher is up and notices
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

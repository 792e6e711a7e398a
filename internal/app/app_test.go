package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"boilbot/internal/bot"
	"boilbot/internal/calendar"
	"boilbot/internal/config"
	"boilbot/internal/digest"
	"boilbot/internal/equipment"
	"boilbot/internal/registry"
	"boilbot/internal/schedule"
	"boilbot/internal/storage"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

const baseConfig = `{
  "telegram": {
    "token": "123:abc",
    "owner_user_ids": [1],
    "digest_chat": {"chat_id": -100, "thread_id": 4},
    "group_log": {"chat_id": -200}
  },
  "logging": {"telegram": {"enabled": true, "thread_id": 9}}
}`

func decode(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.Decode("config.json", []byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return cfg
}

func TestMapLogConfig(t *testing.T) {
	got := mapLogConfig(decode(t, baseConfig))
	if !got.Chat.Enabled || got.Chat.Target != (transport.ChatTarget{ChatID: -200, ThreadID: 9}) {
		t.Fatalf("chat sink = %+v", got.Chat)
	}
	if got.Chat.MinLevel != "error" || got.Chat.RatePerSec != 1 || got.Level != "info" {
		t.Fatalf("defaults not carried: %+v", got)
	}
}

func TestMapDigestAndRegistry(t *testing.T) {
	cfg := decode(t, baseConfig)
	d := mapDigestConfig(cfg)
	if !d.Enabled || d.Schedule != config.DefaultDigestSchedule || d.Timezone != config.DefaultTimezone {
		t.Fatalf("digest = %+v", d)
	}
	if d.Target != (transport.ChatTarget{ChatID: -100, ThreadID: 4}) {
		t.Fatalf("digest target = %+v", d.Target)
	}

	rp := mapRetryPolicy(cfg)
	if rp.Attempts != 3 || rp.Backoff != 200*time.Millisecond {
		t.Fatalf("retry = %+v", rp)
	}
	if mapDuplicatePolicy(cfg) != registry.DuplicatesAllow {
		t.Fatal("default duplicate policy should allow")
	}
	cfg.Registry.DuplicateNames = "reject"
	if mapDuplicatePolicy(cfg) != registry.DuplicatesReject {
		t.Fatal("reject not mapped")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.StorageConfig
		want    storage.Config
		wantErr bool
	}{
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "x.json", Audit: true}, want: storage.Config{Driver: "file", Path: "x.json", Audit: true}},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "SQLite", Path: "x.db"}, want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}},
		{name: "sqlite busy", in: config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "3s"}, want: storage.Config{Driver: "sqlite3", Path: "x.db", BusyTimeout: 3 * time.Second}},
		{name: "no path", in: config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateLive(t *testing.T) {
	cfg := decode(t, baseConfig)
	if err := validateLive(cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.Digest.Schedule = "every tuesday"
	if err := validateLive(cfg); err == nil || !strings.Contains(err.Error(), "digest.schedule") {
		t.Fatalf("bad schedule err = %v", err)
	}
	off := false
	cfg.Digest.Enabled = &off
	if err := validateLive(cfg); err != nil {
		t.Fatalf("disabled digest should skip schedule check: %v", err)
	}
}

type nopSender struct{}

func (nopSender) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

type memStore struct{ data []byte }

func (m *memStore) Read(context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, storage.ErrNotExist
	}
	return m.data, nil
}

func (m *memStore) Write(_ context.Context, b []byte) error {
	m.data = append([]byte(nil), b...)
	return nil
}

func TestApplyConfigUpdatesLiveComponents(t *testing.T) {
	cfg := decode(t, baseConfig)
	cal := cfg.Calendar.Build()
	reg := registry.New(registry.Options{Store: &memStore{}, Calendar: cal})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })
	sched := schedule.NewService(reg, cal)
	b := bot.New(bot.Deps{Registry: reg, Schedule: sched, Sender: nopSender{}})

	a := &App{
		log:    log,
		logs:   logs,
		cal:    cal,
		reg:    reg,
		sched:  sched,
		digest: digest.New(sched, nopSender{}, log),
		bot:    b,
		router: bot.NewRouter(log, nopSender{}, nil),
	}

	next := decode(t, baseConfig)
	next.Registry.DuplicateNames = "reject"
	a.applyConfig(cfg, next)

	day := calendar.NewDate(2025, 9, 15)
	if _, err := reg.Register(context.Background(), "Fry1", equipment.Open, day); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(context.Background(), "Fry1", equipment.Open, day); !errors.Is(err, registry.ErrDuplicate) {
		t.Fatalf("duplicate policy not applied: %v", err)
	}
}

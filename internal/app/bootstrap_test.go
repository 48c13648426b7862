package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

const testYAML = `
app:
  name: copytrade
  version: test
api:
  base_url: http://127.0.0.1:1
account:
  master_id: master-1
  membership_interval_sec: 30
feed:
  ws_url: ws://127.0.0.1:1/ws
  subject: DEFAULT
  page_size: 25
  sort_dir: asc
  poll_interval_sec: 10
balance:
  max_concurrent: 3
  fetch_timeout_sec: 2
price:
  refresh_interval_sec: 45
logging:
  level: error
  dir: logs
storage:
  db_path: data/test.db
`

func initTestBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	t.Chdir(t.TempDir())
	if err := os.WriteFile("config.yaml", []byte(testYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	b := NewBootstrap()
	if err := b.Initialize("config.yaml"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(b.Shutdown)
	return b
}

func TestInitialize(t *testing.T) {
	b := initTestBootstrap(t)

	if b.Desk == nil || b.Client == nil || b.Stream == nil || b.Storage == nil || b.Desk.Prices() == nil {
		t.Fatalf("bootstrap incomplete: %+v", b)
	}
	if _, err := os.Stat(filepath.Join("data", "test.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestInitialSubject(t *testing.T) {
	b := initTestBootstrap(t)

	if got := b.InitialSubject(); got != "DEFAULT" {
		t.Errorf("InitialSubject() = %q, want configured DEFAULT", got)
	}

	if err := b.Storage.SaveConfig(domain.ConfigKeyLastSubject, "SAVED"); err != nil {
		t.Fatal(err)
	}
	if got := b.InitialSubject(); got != "SAVED" {
		t.Errorf("InitialSubject() = %q, want persisted SAVED", got)
	}
}

func TestDeskOptions(t *testing.T) {
	cfg, err := infra.ParseConfig([]byte(testYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	opts := DeskOptions(cfg)
	if opts.MasterID != "master-1" {
		t.Errorf("MasterID = %q", opts.MasterID)
	}
	if opts.Feed.PageSize != 25 || opts.Feed.SortDir != domain.SortAsc || opts.Feed.PollInterval != 10*time.Second {
		t.Errorf("Feed = %+v", opts.Feed)
	}
	if opts.Balance.MaxConcurrent != 3 || opts.Balance.FetchTimeout != 2*time.Second {
		t.Errorf("Balance = %+v", opts.Balance)
	}
	if opts.MembershipInterval != 30*time.Second {
		t.Errorf("MembershipInterval = %v", opts.MembershipInterval)
	}
	if opts.PriceInterval != 45*time.Second {
		t.Errorf("PriceInterval = %v", opts.PriceInterval)
	}
	if opts.Feed.OnConnectivity == nil {
		t.Error("OnConnectivity not wired")
	}
}

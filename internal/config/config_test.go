package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())

	inc, err := cfg.Ledger.MinIncrementAmount()
	assert.NoError(t, err)
	check.Equal(t, "1000", inc.String())
	check.Equal(t, time.Minute, cfg.Sweeper.Interval.Duration)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctionhouse.toml")
	body := `
mode = "server"

[store]
driver = "memory"

[[store.identities]]
subject_id = "alice"
name = "Alice"
role = "seller"
active = true

[ledger]
min_increment = "250.50"
lock_wait = "750ms"

[sweeper]
interval = "30s"
`
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("AUCTIONHOUSE_SERVER_PORT", "9090")
	t.Setenv("AUCTIONHOUSE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("AUCTIONHOUSE_LEDGER_MAX_RETRIES", "not-a-number")

	cfg, err := Load(path)
	assert.NoError(t, err)

	check.Equal(t, "server", cfg.Mode)
	check.Equal(t, "memory", cfg.Store.Driver)
	check.Equal(t, []IdentitySeed{{SubjectID: "alice", Name: "Alice", Role: "seller", Active: true}}, cfg.Store.Identities)
	check.Equal(t, "250.50", cfg.Ledger.MinIncrement)
	check.Equal(t, 750*time.Millisecond, cfg.Ledger.LockWait.Duration)
	check.Equal(t, 30*time.Second, cfg.Sweeper.Interval.Duration)
	check.Equal(t, 9090, cfg.Server.Port)
	check.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Unparseable values leave the default in place.
	check.Equal(t, 5, cfg.Ledger.MaxRetries)
	check.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.Ledger.MinIncrement = "lots"
	cfg.Ledger.MaxRetries = 0
	cfg.Ledger.DistributedLock = true
	cfg.Sweeper.Archive = true
	cfg.Notify.WebhookURL = "https://hooks.example/auction"

	err := cfg.Validate()
	assert.NotNil(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "batch"`,
		"min_increment",
		"max_retries must be >= 1",
		"ledger.distributed_lock requires redis.enabled",
		"sweeper.archive requires s3.enabled",
		"webhook_secret is required",
	} {
		check.True(t, strings.Contains(msg, want))
	}
}

func TestValidateMemoryDriverNotShared(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "memory"
	cfg.Mode = "sweeper"
	check.Error(t, cfg.Validate())

	cfg.Mode = "full"
	check.NoError(t, cfg.Validate())

	cfg.Store.Identities = []IdentitySeed{{SubjectID: "bob", Role: "auctioneer"}}
	err := cfg.Validate()
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), `unknown role "auctioneer"`))
}

func TestValidateRequiresPositiveIncrement(t *testing.T) {
	for _, inc := range []string{"0", "0.001", "-5"} {
		cfg := Defaults()
		cfg.Ledger.MinIncrement = inc
		err := cfg.Validate()
		assert.NotNil(t, err)
		check.True(t, strings.Contains(err.Error(), "min_increment must be at least 0.01"))
	}

	cfg := Defaults()
	cfg.Ledger.MinIncrement = "0.01"
	check.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.AdminAPIKey = "admin-key"
	cfg.Notify.WebhookSecret = "shh"

	out := RedactedConfig(&cfg)
	check.Equal(t, redacted, out.Postgres.Password)
	check.Equal(t, redacted, out.Server.AdminAPIKey)
	check.Equal(t, redacted, out.Notify.WebhookSecret)
	check.Equal(t, "", out.Redis.Password)

	check.Equal(t, "hunter2", cfg.Postgres.Password)
	out.Server.CORSOrigins[0] = "mutated"
	check.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}

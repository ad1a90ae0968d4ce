package db

import (
	"testing"

	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

func TestConfigDialector(t *testing.T) {
	if _, err := (Config{Driver: "mysql"}).dialector(); err == nil {
		t.Fatalf("mysql should be rejected")
	}
	d, err := (Config{Driver: DriverPostgres, User: "u", Password: "p", Host: "h", Port: "5432", Name: "n"}).dialector()
	if err != nil {
		t.Fatalf("postgres dialector: %v", err)
	}
	if d.Name() != "postgres" {
		t.Fatalf("dialector name: %s", d.Name())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:x.db")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverSQLite || cfg.DSN != "file:x.db" {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestNewServiceSQLiteMigrates(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc, err := NewService(log, Config{Driver: DriverSQLite, DSN: "file:migrate_test?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()
	if err := AutoMigrateAll(svc.DB()); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	for _, table := range Tables {
		if !svc.DB().Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
}

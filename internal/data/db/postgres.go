package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/studio-ingest/internal/platform/envutil"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string
	// DSN wins over the POSTGRES_* parts when set.
	DSN string

	Host     string
	Port     string
	User     string
	Password string
	Name     string

	MaxOpenConns int
}

func ConfigFromEnv() Config {
	return Config{
		Driver:       strings.ToLower(envutil.String("DB_DRIVER", DriverPostgres)),
		DSN:          envutil.String("DATABASE_URL", ""),
		Host:         envutil.String("POSTGRES_HOST", "localhost"),
		Port:         envutil.String("POSTGRES_PORT", "5432"),
		User:         envutil.String("POSTGRES_USER", "postgres"),
		Password:     envutil.String("POSTGRES_PASSWORD", ""),
		Name:         envutil.String("POSTGRES_NAME", "studio"),
		MaxOpenConns: envutil.Int("DB_MAX_OPEN_CONNS", 10),
	}
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "", DriverPostgres:
		dsn := c.DSN
		if dsn == "" {
			dsn = fmt.Sprintf(
				"postgres://%s:%s@%s:%s/%s?sslmode=disable",
				c.User, c.Password, c.Host, c.Port, c.Name,
			)
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		dsn := c.DSN
		if dsn == "" {
			dsn = "file:studio-ingest.db?_foreign_keys=on"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (allowed: %q, %q)", c.Driver, DriverPostgres, DriverSQLite)
	}
}

type Service struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

func NewService(logg *logger.Logger, cfg Config) (*Service, error) {
	serviceLog := logg.With("service", "DBService", "driver", cfg.Driver)

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == DriverSQLite {
		// One writer at a time; extra connections only produce SQLITE_BUSY.
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	serviceLog.Info("database connected")
	return &Service{db: db, log: serviceLog, driver: cfg.Driver}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

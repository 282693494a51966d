package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"hookahplus/internal/config"
	"hookahplus/internal/db"
	"hookahplus/internal/domain"
	"hookahplus/internal/engine"
	"hookahplus/internal/migrate"
	"hookahplus/internal/repo"
)

// Store is what a lounge needs from its storage driver.
type Store interface {
	engine.Store
	InsertStaffKey(ctx context.Context, key domain.StaffKey) error
	GetStaffKeyByHash(ctx context.Context, hash string) (domain.StaffKey, error)
	ListStaffKeys(ctx context.Context, staffID string) ([]domain.StaffKey, error)
	DeleteStaffKey(ctx context.Context, id string) error
}

// Lounge bundles the engine with the storage it was opened on.
type Lounge struct {
	Config *config.Config
	Store  Store
	Engine *engine.Engine
	DB     *sql.DB
}

// ResolveConfig loads an explicit config file when path is set, otherwise
// the workspace hookahplus.yml, falling back to defaults when neither exists.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("default")
	}
	return cfg, nil
}

// Open prepares the configured store, running migrations for SQLite, and
// builds an engine on it.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*Lounge, error) {
	if cfg == nil {
		cfg = config.Default("default")
	}
	if logger == nil {
		logger = log.Default()
	}
	l := &Lounge{Config: cfg}
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		l.Store = repo.NewMemory()
	case config.DriverSQLite, "":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		before, err := migrate.Version(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("read schema version: %w", err)
		}
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if before != version {
			logger.Printf("sqlite store %s migrated from schema version %d to %d", db.Path(workspace), before, version)
		} else {
			logger.Printf("sqlite store %s at schema version %d", db.Path(workspace), version)
		}
		l.DB = conn
		l.Store = repo.Repo{DB: conn}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	l.Engine = engine.New(l.Store, cfg)
	l.Engine.Logger = logger
	l.Engine.Hub.Logger = logger
	return l, nil
}

func (l *Lounge) Close() error {
	if l.DB != nil {
		return l.DB.Close()
	}
	return nil
}

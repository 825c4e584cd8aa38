package postgres

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/dispatch"
	"github.com/jkaninda/warden/internal/storage"
)

// Store implements storage.Store over a GORM connection.
// The SQLite backend embeds it with its own connection.
type Store struct {
	db     *gorm.DB
	driver string
	close  func() error

	mu    sync.Mutex
	tools catalog.Store
	logs  dispatch.ExecutionLogStore
}

// NewStore wraps an opened PostgreSQL DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{db: pgDB.GormDB(), driver: storage.DriverPostgres, close: pgDB.Close}
}

// NewGormStore wraps any GORM connection whose dialect handles the shared models.
func NewGormStore(db *gorm.DB, driver string) *Store {
	return &Store{
		db:     db,
		driver: driver,
		close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func (s *Store) Tools() catalog.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tools == nil {
		s.tools = NewToolRepository(s.db)
	}
	return s.tools
}

func (s *Store) ExecutionLogs() dispatch.ExecutionLogStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs == nil {
		s.logs = NewExecutionLogRepository(s.db)
	}
	return s.logs
}

// Migrate runs AutoMigrate for the shared models. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.close()
}

func (s *Store) Driver() string {
	return s.driver
}

// GormDB returns the underlying connection.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

var _ storage.Store = (*Store)(nil)

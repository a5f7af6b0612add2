package checkpoint

import (
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PGOption defines connection options for the PostgreSQL store.
type PGOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

type checkpointRow struct {
	Symbol        string `gorm:"primaryKey"`
	BatchSeq      uint64
	LastEventTime int64
	TakenAt       int64
	Payload       []byte
}

func (checkpointRow) TableName() string { return "replay_checkpoints" }

// PGStore persists checkpoints in PostgreSQL, one row per symbol.
type PGStore struct {
	opt PGOption
	db  *gorm.DB
}

// NewPGStore opens a connection pool and migrates the checkpoint table.
func NewPGStore(option PGOption) (*PGStore, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, err
	}

	return &PGStore{opt: option, db: db}, nil
}

// Save upserts the checkpoint row for the symbol.
func (s *PGStore) Save(cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	payload, err := sonic.Marshal(cp)
	if err != nil {
		return err
	}
	row := checkpointRow{
		Symbol:        cp.Symbol,
		BatchSeq:      cp.BatchSeq,
		LastEventTime: cp.LastEventTime,
		TakenAt:       cp.TakenAt,
		Payload:       payload,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// Load reads the checkpoint row for a symbol.
func (s *PGStore) Load(symbol string) (Checkpoint, bool, error) {
	var row checkpointRow
	err := s.db.Where("symbol = ?", symbol).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := sonic.Unmarshal(row.Payload, &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Close closes the underlying connection pool.
func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt PGOption) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}

package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/transport"
	"github.com/open-teleop/dronesim/pkg/worker"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ExchangeEntry is one journaled exchange.
type ExchangeEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	Session       string    `gorm:"size:64;index" json:"session"`
	Seq           uint64    `json:"seq"`
	Phase         string    `gorm:"size:16" json:"phase"`
	PositionX     float64   `json:"position_x"`
	PositionY     float64   `json:"position_y"`
	PositionZ     float64   `json:"position_z"`
	EmergencyStop bool      `json:"emergency_stop"`
	CommandX      *float64  `json:"command_x,omitempty"`
	CommandY      *float64  `json:"command_y,omitempty"`
	CommandZ      *float64  `json:"command_z,omitempty"`
	Queued        bool      `json:"queued"`
	ErrorKind     string    `gorm:"size:16" json:"error_kind,omitempty"`
	Error         string    `gorm:"size:512" json:"error,omitempty"`
	DurationUs    int64     `json:"duration_us"`
}

// TableName pins the table name.
func (ExchangeEntry) TableName() string {
	return "exchange_journal"
}

// EntryFromRecord converts a worker record.
func EntryFromRecord(session string, rec *worker.Record) ExchangeEntry {
	e := ExchangeEntry{
		CreatedAt:     rec.Started,
		Session:       session,
		Seq:           rec.Seq,
		Phase:         rec.Phase.String(),
		PositionX:     rec.State.Position.X(),
		PositionY:     rec.State.Position.Y(),
		PositionZ:     rec.State.Position.Z(),
		EmergencyStop: rec.State.EmergencyStop,
		Queued:        rec.Queued,
		DurationUs:    rec.Duration.Microseconds(),
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
		if len(e.Error) > 512 {
			e.Error = e.Error[:512]
		}
		if kind, ok := transport.KindOf(rec.Err); ok {
			e.ErrorKind = kind.String()
		} else {
			e.ErrorKind = "internal"
		}
		return e
	}
	x, y := rec.Command.X, rec.Command.Y
	e.CommandX, e.CommandY = &x, &y
	if rec.Command.HasZ {
		z := rec.Command.Z
		e.CommandZ = &z
	}
	return e
}

// OpenDatabase opens driver ("sqlite" or "mysql") at dsn and migrates the
// journal table.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening %s journal: %w", driver, err)
	}
	if err := db.AutoMigrate(&ExchangeEntry{}); err != nil {
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return db, nil
}

// Journal buffers exchange entries and writes them in batches, when the
// buffer reaches flushSize or every flushInterval.
type Journal struct {
	db            *gorm.DB
	session       string
	entries       []ExchangeEntry
	mu            sync.Mutex
	flushSize     int
	flushInterval time.Duration
	flushNow      chan struct{}
	stopChan      chan struct{}
	done          chan struct{}
	once          sync.Once
	logger        customlog.Logger
}

var _ worker.Observer = (*Journal)(nil)

// NewJournal starts the background flusher.
func NewJournal(db *gorm.DB, session string, flushSize int, flushInterval time.Duration, logger customlog.Logger) *Journal {
	if flushSize <= 0 {
		flushSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	j := &Journal{
		db:            db,
		session:       session,
		entries:       make([]ExchangeEntry, 0, flushSize*2),
		flushSize:     flushSize,
		flushInterval: flushInterval,
		flushNow:      make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger,
	}
	go j.autoFlush()
	logger.Infof("Exchange journal started (flushSize: %d, flushInterval: %v)", flushSize, flushInterval)
	return j
}

func (j *Journal) autoFlush() {
	defer close(j.done)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Flush()
		case <-j.flushNow:
			j.Flush()
		case <-j.stopChan:
			j.Flush()
			return
		}
	}
}

// Observe implements worker.Observer.
func (j *Journal) Observe(rec *worker.Record) {
	j.Add(EntryFromRecord(j.session, rec))
}

// Add buffers one entry.
func (j *Journal) Add(e ExchangeEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	size := len(j.entries)
	j.mu.Unlock()

	if size >= j.flushSize {
		select {
		case j.flushNow <- struct{}{}:
		default:
		}
	}
}

// Flush writes every buffered entry.
func (j *Journal) Flush() {
	j.mu.Lock()
	if len(j.entries) == 0 {
		j.mu.Unlock()
		return
	}
	toSave := make([]ExchangeEntry, len(j.entries))
	copy(toSave, j.entries)
	j.entries = j.entries[:0]
	j.mu.Unlock()

	if err := j.db.CreateInBatches(toSave, 100).Error; err != nil {
		j.logger.Errorf("Failed to save %d journal entries: %v", len(toSave), err)
		return
	}
	j.logger.Debugf("Saved %d journal entries", len(toSave))
}

// Recent returns the latest entries of the session, newest first.
func (j *Journal) Recent(limit int) ([]ExchangeEntry, error) {
	var out []ExchangeEntry
	err := j.db.Where("session = ?", j.session).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close flushes what is left and closes the database.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		close(j.stopChan)
		<-j.done
		sqlDB, dbErr := j.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

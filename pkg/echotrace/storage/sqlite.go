package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/echotrace/echotrace/pkg/models"
	"github.com/echotrace/echotrace/pkg/utils"
)

const DefaultDBFile = "echotrace.sqlite3"
const errDBClientNil = "db client is nil"

// candidateBatchSize is how many rows a streaming candidate source pulls
// per query.
const candidateBatchSize = 500

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Fingerprint is the persisted form of a stored fingerprint. The vector is
// a packed little-endian float32 blob; the digest is stored as a signed
// integer because SQLite has no unsigned 64-bit column type.
type Fingerprint struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	SourceID     string `gorm:"uniqueIndex:idx_fp_segment,priority:1;index:idx_fp_source" json:"source_id"`
	SegmentIndex int    `gorm:"uniqueIndex:idx_fp_segment,priority:2" json:"segment_index"`
	Digest       int64  `gorm:"index:idx_fp_digest" json:"digest"`
	SampleRate   uint32 `json:"sample_rate"`
	SegmentStart float64
	SegmentEnd   float64
	Vector       []byte
	CreatedAt    time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("ECHOTRACE_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	// _txlock=immediate makes every write transaction take the write lock
	// up front, so concurrent writers queue on the busy timeout instead of
	// deadlocking on a read-to-write lock upgrade.
	dsn := dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Fingerprint{}, &Job{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	// at most one non-terminal job per (job_type, target_id); racing
	// creators serialize on this index rather than on application locks
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_job_active_target ON jobs(job_type, target_id) WHERE status IN ('pending','running')",
	).Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating active job index: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func toRow(sf *models.StoredFingerprint) Fingerprint {
	return Fingerprint{
		ID:           sf.ID,
		SourceID:     sf.SourceID,
		SegmentIndex: sf.SegmentIndex,
		Digest:       int64(sf.Digest),
		SampleRate:   sf.SampleRate,
		SegmentStart: sf.SegmentStart,
		SegmentEnd:   sf.SegmentEnd,
		Vector:       EncodeVector(sf.Vector),
	}
}

func fromRow(r *Fingerprint) (*models.StoredFingerprint, error) {
	vec, err := DecodeVector(r.Vector)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", r.ID, err)
	}
	return &models.StoredFingerprint{
		ID:           r.ID,
		SourceID:     r.SourceID,
		SegmentIndex: r.SegmentIndex,
		Fingerprint: models.Fingerprint{
			Vector:       vec,
			Digest:       uint64(r.Digest),
			SampleRate:   r.SampleRate,
			SegmentStart: r.SegmentStart,
			SegmentEnd:   r.SegmentEnd,
		},
	}, nil
}

// SaveFingerprint upserts one fingerprint keyed by (source, segment index).
// Re-indexing the same segment replaces the previous vector, it never
// duplicates the row.
func (c *DBClient) SaveFingerprint(sf *models.StoredFingerprint) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if sf.ID == "" {
		sf.ID = utils.GenerateUUID()
	}
	row := toRow(sf)

	return c.DB.Transaction(func(tx *gorm.DB) error {
		var existing Fingerprint
		err := tx.Where("source_id = ? AND segment_index = ?", sf.SourceID, sf.SegmentIndex).
			First(&existing).Error
		if err == nil {
			row.ID = existing.ID
			sf.ID = existing.ID
			return tx.Model(&Fingerprint{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"digest":        row.Digest,
				"sample_rate":   row.SampleRate,
				"segment_start": row.SegmentStart,
				"segment_end":   row.SegmentEnd,
				"vector":        row.Vector,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("querying existing fingerprint: %w", err)
		}
		return tx.Create(&row).Error
	})
}

// SaveFingerprints batch-inserts fingerprints for initial corpus builds.
// Rows must not collide with existing (source, segment) pairs.
func (c *DBClient) SaveFingerprints(sfs []models.StoredFingerprint) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	rows := make([]Fingerprint, 0, len(sfs))
	for i := range sfs {
		if sfs[i].ID == "" {
			sfs[i].ID = utils.GenerateUUID()
		}
		rows = append(rows, toRow(&sfs[i]))
	}
	if len(rows) == 0 {
		return nil
	}
	if err := c.DB.CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("batch insert fingerprints: %w", err)
	}
	return nil
}

// GetByDigest returns all fingerprints whose digest equals the query digest.
func (c *DBClient) GetByDigest(digest uint64) ([]models.StoredFingerprint, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Fingerprint
	if err := c.DB.Where("digest = ?", int64(digest)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying by digest: %w", err)
	}
	out := make([]models.StoredFingerprint, 0, len(rows))
	for i := range rows {
		sf, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *sf)
	}
	return out, nil
}

// GetBySource returns the fingerprints of one source ordered by segment.
func (c *DBClient) GetBySource(sourceID string) ([]models.StoredFingerprint, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Fingerprint
	if err := c.DB.Where("source_id = ?", sourceID).Order("segment_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying by source: %w", err)
	}
	out := make([]models.StoredFingerprint, 0, len(rows))
	for i := range rows {
		sf, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *sf)
	}
	return out, nil
}

// DeleteSource removes a source and all its fingerprints.
func (c *DBClient) DeleteSource(sourceID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Where("source_id = ?", sourceID).Delete(&Fingerprint{}).Error
}

// CountFingerprints returns the corpus size.
func (c *DBClient) CountFingerprints() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Fingerprint{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return n, nil
}

// LoadAll materializes the full corpus, used to (re)build the in-memory
// snapshot at startup.
func (c *DBClient) LoadAll() ([]models.StoredFingerprint, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	out := make([]models.StoredFingerprint, 0, 1024)
	src := c.StreamCandidates()
	for {
		sf, err := src.Next()
		if err != nil {
			return nil, err
		}
		if sf == nil {
			return out, nil
		}
		out = append(out, *sf)
	}
}

// StreamCandidates returns a candidate source backed by a keyset cursor, so
// pools larger than memory can be scanned batch by batch.
func (c *DBClient) StreamCandidates() models.CandidateSource {
	return &rowSource{db: c.DB}
}

type rowSource struct {
	db     *gorm.DB
	lastID string
	batch  []Fingerprint
	pos    int
	done   bool
}

func (s *rowSource) Next() (*models.StoredFingerprint, error) {
	for {
		if s.pos >= len(s.batch) {
			if s.done {
				return nil, nil
			}
			var rows []Fingerprint
			q := s.db.Order("id").Limit(candidateBatchSize)
			if s.lastID != "" {
				q = q.Where("id > ?", s.lastID)
			}
			if err := q.Find(&rows).Error; err != nil {
				return nil, fmt.Errorf("streaming candidates: %w", err)
			}
			if len(rows) == 0 {
				s.done = true
				return nil, nil
			}
			if len(rows) < candidateBatchSize {
				s.done = true
			}
			s.batch = rows
			s.pos = 0
			s.lastID = rows[len(rows)-1].ID
		}
		row := &s.batch[s.pos]
		s.pos++
		sf, err := fromRow(row)
		if err != nil {
			// a corrupt vector blob disqualifies that row only, never
			// the whole scan
			continue
		}
		return sf, nil
	}
}

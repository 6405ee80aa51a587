package echotrace

import (
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/models"
)

// storageAdapter adapts the storage.DBClient to the FingerprintStore
// interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStore creates a SQLite-backed fingerprint store.
func NewSQLiteStore(dbPath string) (FingerprintStore, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveFingerprint(sf *models.StoredFingerprint) error {
	return s.db.SaveFingerprint(sf)
}

func (s *storageAdapter) SaveFingerprints(sfs []models.StoredFingerprint) error {
	return s.db.SaveFingerprints(sfs)
}

func (s *storageAdapter) GetByDigest(digest uint64) ([]models.StoredFingerprint, error) {
	return s.db.GetByDigest(digest)
}

func (s *storageAdapter) GetBySource(sourceID string) ([]models.StoredFingerprint, error) {
	return s.db.GetBySource(sourceID)
}

func (s *storageAdapter) DeleteSource(sourceID string) error {
	return s.db.DeleteSource(sourceID)
}

func (s *storageAdapter) CountFingerprints() (int64, error) {
	return s.db.CountFingerprints()
}

func (s *storageAdapter) LoadAll() ([]models.StoredFingerprint, error) {
	return s.db.LoadAll()
}

func (s *storageAdapter) StreamCandidates() models.CandidateSource {
	return s.db.StreamCandidates()
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

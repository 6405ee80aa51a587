package echotrace

import (
	"context"

	"github.com/echotrace/echotrace/pkg/models"
)

type Service interface {
	IndexSegment(ctx context.Context, seg models.Segment, samples []float32) (*models.StoredFingerprint, error)
	IndexFile(ctx context.Context, sourceID, path string) (int, error)
	Search(ctx context.Context, samples []float32, sampleRate uint32, topK int, minConfidence float32) ([]models.Match, error)
	Process(ctx context.Context, samples []float32, sampleRate uint32) ([]models.Match, error)
	ReloadCorpus() (int, error)
	CorpusSize() int
	Close() error
}

type FingerprintStore interface {
	SaveFingerprint(sf *models.StoredFingerprint) error
	SaveFingerprints(sfs []models.StoredFingerprint) error
	GetByDigest(digest uint64) ([]models.StoredFingerprint, error)
	GetBySource(sourceID string) ([]models.StoredFingerprint, error)
	DeleteSource(sourceID string) error
	CountFingerprints() (int64, error)
	LoadAll() ([]models.StoredFingerprint, error)
	StreamCandidates() models.CandidateSource
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

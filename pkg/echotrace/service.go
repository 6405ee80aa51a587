package echotrace

import (
	"context"
	"fmt"

	"github.com/echotrace/echotrace/pkg/echotrace/audio"
	"github.com/echotrace/echotrace/pkg/echotrace/fingerprint"
	"github.com/echotrace/echotrace/pkg/echotrace/match"
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/logger"
	"github.com/echotrace/echotrace/pkg/models"
)

// minSegmentSeconds is the shortest trailing remainder still indexed.
const minSegmentSeconds = 1.0

// echoService is the default implementation of the Service interface.
type echoService struct {
	store     FingerprintStore
	extractor *fingerprint.Extractor
	corpus    *match.Corpus
	index     *storage.DigestIndex
	log       Logger
	config    *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var store FingerprintStore
	var err error
	if cfg.Store != nil {
		store = cfg.Store
	} else {
		store, err = NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
	}

	var index *storage.DigestIndex
	if cfg.IndexPath != "" {
		index, err = storage.OpenDigestIndex(cfg.IndexPath)
		if err != nil {
			// the index is an accelerator, the service works without it
			cfg.Logger.Warnf("digest index unavailable: %v", err)
			index = nil
		}
	}

	s := &echoService{
		store:     store,
		extractor: fingerprint.NewExtractor(cfg.Extractor),
		corpus:    match.NewCorpus(),
		index:     index,
		log:       cfg.Logger,
		config:    cfg,
	}

	if n, err := s.ReloadCorpus(); err != nil {
		s.log.Warnf("initial corpus load failed: %v", err)
	} else {
		s.log.Infof("loaded %d fingerprints into corpus", n)
	}

	return s, nil
}

// IndexSegment fingerprints one segment and persists the result. Indexing
// the same (source, segment) again replaces the stored vector.
func (s *echoService) IndexSegment(ctx context.Context, seg models.Segment, samples []float32) (*models.StoredFingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fp, err := s.extractor.Extract(samples, seg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("extracting segment %d of %s: %w", seg.Index, seg.SourceID, err)
	}
	fp.SegmentStart = seg.StartTime
	fp.SegmentEnd = seg.EndTime

	sf := &models.StoredFingerprint{
		SourceID:     seg.SourceID,
		SegmentIndex: seg.Index,
		Fingerprint:  *fp,
	}
	if err := s.store.SaveFingerprint(sf); err != nil {
		return nil, fmt.Errorf("saving segment %d of %s: %w", seg.Index, seg.SourceID, err)
	}

	if s.index != nil {
		if err := s.index.Put(sf.Digest, sf.SourceID, sf.SegmentIndex); err != nil {
			s.log.Warnf("digest index write failed for %s/%d: %v", sf.SourceID, sf.SegmentIndex, err)
		}
	}
	return sf, nil
}

// IndexFile splits a WAV file into fixed segments and indexes each one.
// Segments rejected by the extractor (silence, too short) are skipped, not
// fatal. Returns the number of segments indexed.
func (s *echoService) IndexFile(ctx context.Context, sourceID, path string) (int, error) {
	samples, sampleRate, err := audio.ReadWAV(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	chunks := audio.SplitSegments(samples, sampleRate, s.config.SegmentSeconds, minSegmentSeconds)
	indexed := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		seg := models.Segment{
			SourceID:   sourceID,
			Index:      i,
			StartTime:  float64(i) * s.config.SegmentSeconds,
			EndTime:    float64(i)*s.config.SegmentSeconds + float64(len(chunk))/float64(sampleRate),
			SampleRate: sampleRate,
		}
		if _, err := s.IndexSegment(ctx, seg, chunk); err != nil {
			if fingerprint.IsRejected(err) {
				s.log.Debugf("skipping segment %d of %s: %v", i, sourceID, err)
				continue
			}
			return indexed, err
		}
		indexed++
	}
	s.log.Infof("indexed %d/%d segments of %s", indexed, len(chunks), sourceID)
	return indexed, nil
}

// Search fingerprints the query audio and ranks it against the corpus. A
// digest hit short-circuits to exact matches at full confidence.
func (s *echoService) Search(ctx context.Context, samples []float32, sampleRate uint32, topK int, minConfidence float32) ([]models.Match, error) {
	query, err := s.extractor.Extract(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	if exact, err := s.lookupExact(query, topK); err != nil {
		s.log.Warnf("digest lookup failed, falling back to scan: %v", err)
	} else if len(exact) > 0 {
		return exact, nil
	}

	source := s.corpus.Source()
	if s.corpus.Len() == 0 {
		source = s.store.StreamCandidates()
	}
	return match.Search(ctx, query, source, topK, minConfidence)
}

// lookupExact resolves the digest fast path. The on-disk index is consulted
// first so that the common miss avoids a database query.
func (s *echoService) lookupExact(query *models.Fingerprint, topK int) ([]models.Match, error) {
	if s.index != nil {
		_, _, ok, err := s.index.Lookup(query.Digest)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	rows, err := s.store.GetByDigest(query.Digest)
	if err != nil {
		return nil, err
	}
	if len(rows) > topK {
		rows = rows[:topK]
	}
	out := make([]models.Match, 0, len(rows))
	for i := range rows {
		out = append(out, models.Match{
			QueryDigest: query.Digest,
			Candidate:   &rows[i],
			MatchScore: models.MatchScore{
				Correlation:         1,
				EuclideanSimilarity: 1,
				EuclideanDistance:   0,
				Confidence:          1,
			},
		})
	}
	return out, nil
}

// Process runs one search with the service defaults. It is the hook the
// streaming session calls on every hop.
func (s *echoService) Process(ctx context.Context, samples []float32, sampleRate uint32) ([]models.Match, error) {
	return s.Search(ctx, samples, sampleRate, s.config.TopK, s.config.MinConfidence)
}

// ReloadCorpus swaps in a fresh in-memory snapshot of the stored corpus.
// Searches in flight keep the snapshot they started with.
func (s *echoService) ReloadCorpus() (int, error) {
	items, err := s.store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("loading corpus: %w", err)
	}
	s.corpus.Replace(items)

	if s.index != nil && len(items) > 0 {
		if err := s.index.PutBatch(items); err != nil {
			s.log.Warnf("digest index rebuild failed: %v", err)
		}
	}
	return len(items), nil
}

// CorpusSize returns the size of the current in-memory snapshot.
func (s *echoService) CorpusSize() int {
	return s.corpus.Len()
}

// Close releases the store and the digest index.
func (s *echoService) Close() error {
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.log.Warnf("closing digest index: %v", err)
		}
	}
	return s.store.Close()
}

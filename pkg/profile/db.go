package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/store"
)

const (
	profilesKey   = "profiles"
	recordRetries = 10
)

// DB is the performance profile database. It keeps an in-memory copy that
// serves reads and writes every update through the store with an optimistic
// read-modify-write, so updates from other processes are never lost.
type DB struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	// writeMu serializes persisted writes; pending holds executions whose
	// write failed and that are replayed by the next one.
	writeMu sync.Mutex
	pending []pendingExecution

	store    store.Store
	tunables config.Tunables
	logger   *zap.Logger
	now      func() time.Time
}

type pendingExecution struct {
	modelID string
	e       Execution
}

// Option configures a DB.
type Option func(*DB)

// WithStore sets the persistence backend. Without one, profiles live in
// memory only.
func WithStore(s store.Store) Option {
	return func(db *DB) {
		db.store = s
	}
}

// WithTunables sets the band thresholds and history length.
func WithTunables(t config.Tunables) Option {
	return func(db *DB) {
		db.tunables = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger.Named("profile")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// NewDB creates an empty profile database.
func NewDB(opts ...Option) *DB {
	db := &DB{
		profiles: make(map[string]*Profile),
		tunables: config.DefaultTunables(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Load replaces the in-memory profiles with the persisted ones. A missing
// document is not an error; any other failure leaves memory untouched.
func (db *DB) Load(ctx context.Context) error {
	if db.store == nil {
		return nil
	}
	doc, err := db.store.Get(ctx, profilesKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		db.logger.Warn("profile load failed", zap.Error(err))
		return fmt.Errorf("load profiles: %w", err)
	}

	decoded, err := decode(doc.Data)
	if err != nil {
		db.logger.Warn("profile decode failed", zap.Error(err))
		return err
	}

	db.writeMu.Lock()
	for _, pe := range db.pending {
		db.applyTo(decoded.Profiles, pe.modelID, pe.e)
	}
	db.writeMu.Unlock()

	db.mu.Lock()
	db.profiles = decoded.Profiles
	db.mu.Unlock()
	db.logger.Debug("profiles loaded", zap.Int("models", len(decoded.Profiles)))
	return nil
}

// Record folds one execution into the model's profile and persists it.
// The returned profile reflects the update even when persistence fails; in
// that case the error is returned alongside it, the in-memory copy keeps
// serving and the execution is written again with the next record.
func (db *DB) Record(ctx context.Context, modelID string, e Execution) (Profile, error) {
	if e.At.IsZero() {
		e.At = db.now()
	}
	e.Complexity = clamp01(e.Complexity)
	e.Quality = clamp01(e.Quality)

	if db.store == nil {
		db.mu.Lock()
		defer db.mu.Unlock()
		return db.applyTo(db.profiles, modelID, e), nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var persisted *document
	_, err := store.Update(ctx, db.store, profilesKey, recordRetries, func(current []byte) ([]byte, error) {
		doc, err := decode(current)
		if err != nil {
			return nil, err
		}
		for _, pe := range db.pending {
			db.applyTo(doc.Profiles, pe.modelID, pe.e)
		}
		db.applyTo(doc.Profiles, modelID, e)
		persisted = doc
		return json.Marshal(doc)
	})
	if err == nil {
		if len(db.pending) > 0 {
			db.logger.Info("replayed unpersisted executions", zap.Int("count", len(db.pending)))
			db.pending = nil
		}
		db.mu.Lock()
		db.profiles = persisted.Profiles
		p := db.profiles[modelID].clone()
		db.mu.Unlock()
		return p, nil
	}

	db.logger.Warn("profile persist failed, keeping in-memory update",
		zap.String("model", modelID), zap.Int("pending", len(db.pending)+1), zap.Error(err))
	db.pending = append(db.pending, pendingExecution{modelID: modelID, e: e})
	db.mu.Lock()
	p := db.applyTo(db.profiles, modelID, e)
	db.mu.Unlock()
	return p, fmt.Errorf("record profile %s: %w", modelID, err)
}

func (db *DB) applyTo(profiles map[string]*Profile, modelID string, e Execution) Profile {
	p, ok := profiles[modelID]
	if !ok {
		p = &Profile{ModelID: modelID}
		profiles[modelID] = p
	}
	p.apply(e, db.tunables.Complexity, db.tunables.HistoryLength)
	return p.clone()
}

// Get returns a copy of the profile for modelID.
func (db *DB) Get(modelID string) (Profile, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.profiles[modelID]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// All returns copies of every profile sorted by model id.
func (db *DB) All() []Profile {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Profile, 0, len(db.profiles))
	for _, p := range db.profiles {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Band returns the complexity band of a score under the configured thresholds.
func (db *DB) Band(complexity float64) Band {
	return BandFor(complexity, db.tunables.Complexity)
}

// CohortAverage is the mean success rate and quality of every model with
// history in band. ok is false when no model has any.
func (db *DB) CohortAverage(band Band) (successRate, quality float64, ok bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, p := range db.profiles {
		bs, has := p.Bands[band]
		if !has || bs.Count == 0 {
			continue
		}
		successRate += bs.SuccessRate
		quality += bs.QualityScore
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return successRate / float64(n), quality / float64(n), true
}

// BestPerforming returns up to n model ids with history in band, ordered by
// band quality and then band success rate.
func (db *DB) BestPerforming(band Band, n int) []string {
	type entry struct {
		id string
		bs BandStats
	}
	db.mu.RLock()
	entries := make([]entry, 0, len(db.profiles))
	for id, p := range db.profiles {
		if bs, ok := p.Bands[band]; ok && bs.Count > 0 {
			entries = append(entries, entry{id: id, bs: bs})
		}
	}
	db.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].bs, entries[j].bs
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return entries[i].id < entries[j].id
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// IsBestPerforming reports whether modelID is among the top n in band.
func (db *DB) IsBestPerforming(modelID string, band Band, n int) bool {
	for _, id := range db.BestPerforming(band, n) {
		if id == modelID {
			return true
		}
	}
	return false
}

// RecommendedRange is the complexity span covered by the bands where the
// model's quality is at least the low quality cutoff.
func (db *DB) RecommendedRange(modelID string) (lo, hi float64, ok bool) {
	p, found := db.Get(modelID)
	if !found {
		return 0, 0, false
	}
	lo, hi = 1, 0
	for _, b := range Bands {
		bs, has := p.Bands[b]
		if !has || bs.Count == 0 || bs.QualityScore < db.tunables.QualityLow {
			continue
		}
		bl, bh := BandBounds(b, db.tunables.Complexity)
		if bl < lo {
			lo = bl
		}
		if bh > hi {
			hi = bh
		}
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// BandQuality returns the model's quality score within band.
func (db *DB) BandQuality(modelID string, band Band) (float64, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.profiles[modelID]
	if !ok {
		return 0, false
	}
	bs, ok := p.Bands[band]
	if !ok || bs.Count == 0 {
		return 0, false
	}
	return bs.QualityScore, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

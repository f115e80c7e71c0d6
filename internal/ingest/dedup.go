package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/Virrpe/saaspype-trends/internal/cache"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Deduplicator rejects exact and near-duplicate events before they reach
// aggregation. Exact matches go through a TTL-bounded fingerprint store;
// near-duplicates are caught by shingle similarity against a bounded list
// of recently admitted texts.
//
// A hash collision producing a false negative (a unique event rejected as a
// duplicate) is an accepted risk at 64-bit fingerprint width.
type Deduplicator struct {
	store     cache.FingerprintStore
	ttl       time.Duration
	threshold float64
	logger    *slog.Logger

	mu         sync.Mutex
	recent     []shingleSet
	recentMax  int
	recentNext int
}

type shingleSet struct {
	grams   map[uint64]struct{}
	expires time.Time
}

// NewDeduplicator builds a Deduplicator over the supplied fingerprint store.
func NewDeduplicator(store cache.FingerprintStore, ttl time.Duration, similarityThreshold float64, recentTexts int, logger *slog.Logger) *Deduplicator {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = 0.8
	}
	if recentTexts <= 0 {
		recentTexts = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		store:     store,
		ttl:       ttl,
		threshold: similarityThreshold,
		logger:    logger,
		recentMax: recentTexts,
	}
}

// Admit reports whether the event should count toward aggregates. Admitted
// events have their fingerprint and shingle set retained for the dedup window.
func (d *Deduplicator) Admit(ctx context.Context, event models.ContentEvent) bool {
	normalized := NormalizeText(event.Text)
	if normalized == "" {
		return false
	}

	fingerprint := strconv.FormatUint(xxhash.Sum64String(normalized), 16)
	fresh, err := d.store.AddIfAbsent(ctx, fingerprint, d.ttl)
	if err != nil {
		// Store trouble must not stall ingestion; fall back to similarity only.
		d.logger.Warn("fingerprint store unavailable", slog.Any("error", err))
		fresh = true
	}
	if !fresh {
		return false
	}

	grams := shingles(normalized, 3)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, prior := range d.recent {
		if prior.expires.Before(now) || len(prior.grams) == 0 {
			continue
		}
		if jaccard(grams, prior.grams) >= d.threshold {
			return false
		}
	}

	entry := shingleSet{grams: grams, expires: now.Add(d.ttl)}
	if len(d.recent) < d.recentMax {
		d.recent = append(d.recent, entry)
	} else {
		d.recent[d.recentNext] = entry
		d.recentNext = (d.recentNext + 1) % d.recentMax
	}
	return true
}

// NormalizeText lowercases, strips punctuation, and collapses whitespace so
// textual near-identicals share a fingerprint.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// shingles hashes overlapping word n-grams of the normalized text.
func shingles(normalized string, n int) map[uint64]struct{} {
	words := strings.Fields(normalized)
	set := make(map[uint64]struct{})
	if len(words) == 0 {
		return set
	}
	if len(words) < n {
		set[xxhash.Sum64String(strings.Join(words, " "))] = struct{}{}
		return set
	}
	for i := 0; i+n <= len(words); i++ {
		set[xxhash.Sum64String(strings.Join(words[i:i+n], " "))] = struct{}{}
	}
	return set
}

func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	intersect := 0
	for g := range small {
		if _, ok := large[g]; ok {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

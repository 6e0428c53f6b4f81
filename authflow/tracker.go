// Package authflow tracks in-progress federation attempts. Each login
// redirect gets a short-lived, single-use record keyed by an
// unguessable nonce; consuming the nonce exactly once on callback is
// the primary CSRF/replay defence.
package authflow

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("flow not found")
	ErrExpired  = errors.New("flow expired")
	ErrConsumed = errors.New("flow already consumed")
)

const (
	shardCount = 32
	nonceBytes = 32 // 256 bits
)

// Record is the state of one in-progress login. A record transitions
// Initiated -> Consumed exactly once; a second consumption attempt is
// a protocol violation.
type Record struct {
	Nonce        string
	Provider     string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Consumed     bool
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Tracker stores flow records with their own short TTL, independent of
// session TTL. Safe for concurrent use; consumption is atomic per
// nonce.
type Tracker struct {
	shards [shardCount]*shard
	ttl    time.Duration

	nowTime func() time.Time // injectable for testing

	stop     chan struct{}
	stopOnce sync.Once
}

// TrackerOption modifies a Tracker during construction.
type TrackerOption func(*Tracker)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) TrackerOption {
	return func(tr *Tracker) {
		tr.nowTime = nowFunc
	}
}

// NewTracker creates a tracker whose records expire after ttl
// (defaults to 10 minutes). Abandoned flows are purged lazily on
// lookup and by a periodic sweep.
func NewTracker(ttl time.Duration, options ...TrackerOption) *Tracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	tr := &Tracker{
		ttl:     ttl,
		nowTime: time.Now,
		stop:    make(chan struct{}),
	}
	for i := range tr.shards {
		tr.shards[i] = &shard{records: make(map[string]*Record)}
	}
	for _, opt := range options {
		opt(tr)
	}
	go tr.sweepLoop()
	return tr
}

func (tr *Tracker) shardFor(nonce string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nonce))
	return tr.shards[h.Sum32()%shardCount]
}

// Begin mints a flow record for the named provider and returns a copy.
// codeVerifier is the PKCE verifier to replay at code exchange, empty
// when the provider does not use PKCE.
func (tr *Tracker) Begin(provider, codeVerifier string) (Record, error) {
	if provider == "" {
		return Record{}, pkgerrors.New("[Tracker.Begin] provider is required")
	}

	nonce, err := generateNonce()
	if err != nil {
		return Record{}, pkgerrors.Wrap(err, "[Tracker.Begin] nonce generation")
	}

	now := tr.nowTime()
	record := &Record{
		Nonce:        nonce,
		Provider:     provider,
		CodeVerifier: codeVerifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(tr.ttl),
	}

	sh := tr.shardFor(nonce)
	sh.mu.Lock()
	sh.records[nonce] = record
	sh.mu.Unlock()

	return *record, nil
}

// Consume atomically checks that the record exists, is unexpired and
// unconsumed, then marks it consumed and returns it. Concurrent calls
// with the same nonce yield exactly one success; the rest fail with
// ErrConsumed (or ErrNotFound once the sweep has removed the record).
func (tr *Tracker) Consume(nonce string) (Record, error) {
	if nonce == "" {
		return Record{}, ErrNotFound
	}

	sh := tr.shardFor(nonce)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	record, ok := sh.records[nonce]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !tr.nowTime().Before(record.ExpiresAt) {
		// Lazy purge of an abandoned flow.
		delete(sh.records, nonce)
		return Record{}, ErrExpired
	}
	if record.Consumed {
		return Record{}, ErrConsumed
	}

	record.Consumed = true
	return *record, nil
}

// Len returns the number of tracked records, consumed ones included.
func (tr *Tracker) Len() int {
	n := 0
	for _, sh := range tr.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Close stops the background sweep.
func (tr *Tracker) Close() {
	tr.stopOnce.Do(func() {
		close(tr.stop)
	})
}

func (tr *Tracker) sweepLoop() {
	// Sweeping at half the TTL keeps the gap between a record expiring
	// and disappearing bounded without hammering the shards.
	ticker := time.NewTicker(tr.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := tr.sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("purged finished auth flows")
			}
		case <-tr.stop:
			return
		}
	}
}

// sweep drops expired records. Consumed records are kept until their
// TTL passes so a replayed callback gets ErrConsumed rather than the
// less precise ErrNotFound.
func (tr *Tracker) sweep() int {
	now := tr.nowTime()
	removed := 0
	for _, sh := range tr.shards {
		sh.mu.Lock()
		for nonce, record := range sh.records {
			if !now.Before(record.ExpiresAt) {
				delete(sh.records, nonce)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

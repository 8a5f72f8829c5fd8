package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"esgbu/internal/blob"
)

const defaultAuditBatchSize = 100

// BlobAuditRecorder buffers audit entries and archives them as JSON-lines
// blobs under prefix/YYYY/MM/DD/. Archive failures are logged and the batch
// is kept for the next flush.
type BlobAuditRecorder struct {
	mu        sync.Mutex
	store     blob.Store
	prefix    string
	batchSize int
	logger    Logger
	now       func() time.Time
	pending   []AuditEntry
}

// BlobAuditOption customises a BlobAuditRecorder.
type BlobAuditOption func(*BlobAuditRecorder)

// WithAuditBatchSize flushes every n entries.
func WithAuditBatchSize(n int) BlobAuditOption {
	return func(r *BlobAuditRecorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithAuditPrefix sets the key prefix, "audit" by default.
func WithAuditPrefix(prefix string) BlobAuditOption {
	return func(r *BlobAuditRecorder) {
		if p := strings.Trim(prefix, "/"); p != "" {
			r.prefix = p
		}
	}
}

// WithAuditLogger reports archive failures.
func WithAuditLogger(l Logger) BlobAuditOption {
	return func(r *BlobAuditRecorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditClock overrides the clock used for archive keys.
func WithAuditClock(c Clock) BlobAuditOption {
	return func(r *BlobAuditRecorder) {
		if c != nil {
			r.now = c.Now
		}
	}
}

// NewBlobAuditRecorder archives into store.
func NewBlobAuditRecorder(store blob.Store, opts ...BlobAuditOption) *BlobAuditRecorder {
	r := &BlobAuditRecorder{
		store:     store,
		prefix:    "audit",
		batchSize: defaultAuditBatchSize,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements AuditRecorder.
func (r *BlobAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.pending = append(r.pending, entry)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()
	if full {
		if _, err := r.Flush(ctx); err != nil {
			r.logger.Error("audit archive flush failed", "error", err)
		}
	}
}

// Pending returns the number of buffered entries.
func (r *BlobAuditRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush archives buffered entries and returns the blob key, or "" when
// nothing was pending.
func (r *BlobAuditRecorder) Flush(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range r.pending {
		if err := enc.Encode(entry); err != nil {
			return "", fmt.Errorf("encode audit entry %s: %w", entry.ID, err)
		}
	}
	now := r.now().UTC()
	key := fmt.Sprintf("%s/%s/%d-%s.jsonl", r.prefix, now.Format("2006/01/02"), now.UnixNano(), uuid.NewString())
	_, err := r.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata:    map[string]string{"entries": strconv.Itoa(len(r.pending))},
	})
	if err != nil {
		return "", fmt.Errorf("archive audit batch: %w", err)
	}
	r.pending = r.pending[:0]
	return key, nil
}

// Close flushes the remaining entries.
func (r *BlobAuditRecorder) Close(ctx context.Context) error {
	_, err := r.Flush(ctx)
	return err
}

// ReadAuditArchive decodes every archived entry under prefix in key order.
func ReadAuditArchive(ctx context.Context, store blob.Store, prefix string) ([]AuditEntry, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var entries []AuditEntry
	for _, info := range infos {
		_, rc, err := store.Get(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var entry AuditEntry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				_ = rc.Close()
				return nil, fmt.Errorf("decode %s: %w", info.Key, err)
			}
			entries = append(entries, entry)
		}
		err = scanner.Err()
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", info.Key, err)
		}
	}
	return entries, nil
}

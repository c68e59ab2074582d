package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pointerScheme = "art://"
	keyPrefix     = "registry:snapshot:"

	envArtifactTTLShort    = "ARTIFACT_TTL_SHORT"
	envArtifactTTLStandard = "ARTIFACT_TTL_STANDARD"
	envArtifactTTLAudit    = "ARTIFACT_TTL_AUDIT"
)

// Hash fields of a stored snapshot.
const (
	fieldContent     = "content"
	fieldSubmission  = "submission_id"
	fieldSource      = "source_url"
	fieldContentType = "content_type"
	fieldSize        = "size_bytes"
	fieldDigest      = "digest"
	fieldRedacted    = "redacted"
	fieldRetention   = "retention"
	fieldStoredAt    = "stored_at"
)

var defaultTTLs = map[RetentionClass]time.Duration{
	RetentionShort:    24 * time.Hour,
	RetentionStandard: 30 * 24 * time.Hour,
	RetentionAudit:    90 * 24 * time.Hour,
}

var errUnavailable = errors.New("artifact store unavailable")

// RedisStore keeps each snapshot as one Redis hash that expires with its retention class.
type RedisStore struct {
	client redis.UniversalClient
	ttls   map[RetentionClass]time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client. ARTIFACT_TTL_* override the default TTLs.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		ttls: map[RetentionClass]time.Duration{
			RetentionShort:    ttlFromEnv(envArtifactTTLShort, defaultTTLs[RetentionShort]),
			RetentionStandard: ttlFromEnv(envArtifactTTLStandard, defaultTTLs[RetentionStandard]),
			RetentionAudit:    ttlFromEnv(envArtifactTTLAudit, defaultTTLs[RetentionAudit]),
		},
		now: time.Now,
	}
}

func (s *RedisStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	if s == nil || s.client == nil {
		return "", errUnavailable
	}
	ttl, ok := s.ttls[meta.Retention]
	if !ok {
		meta.Retention = RetentionStandard
		ttl = s.ttls[RetentionStandard]
	}
	meta.SizeBytes = int64(len(content))
	meta.Digest = digest(content)
	meta.StoredAt = s.now().UTC()

	id := uuid.NewString()
	key := snapshotKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encode(content, meta))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", id, err)
	}
	return Pointer(id), nil
}

// Get resolves a pointer. Content that fails its digest check returns ErrCorrupt.
func (s *RedisStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	if s == nil || s.client == nil {
		return nil, Metadata{}, errUnavailable
	}
	id, err := IDFromPointer(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	fields, err := s.client.HGetAll(ctx, snapshotKey(id)).Result()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	content, ok := fields[fieldContent]
	if !ok {
		return nil, Metadata{}, ErrNotFound
	}
	meta := decode(fields)
	if meta.Digest != "" && meta.Digest != digest([]byte(content)) {
		return nil, meta, ErrCorrupt
	}
	return []byte(content), meta, nil
}

func encode(content []byte, meta Metadata) map[string]any {
	return map[string]any{
		fieldContent:     content,
		fieldSubmission:  meta.SubmissionID,
		fieldSource:      meta.SourceURL,
		fieldContentType: meta.ContentType,
		fieldSize:        meta.SizeBytes,
		fieldDigest:      meta.Digest,
		fieldRedacted:    strconv.FormatBool(meta.Redacted),
		fieldRetention:   string(meta.Retention),
		fieldStoredAt:    meta.StoredAt.Format(time.RFC3339Nano),
	}
}

func decode(fields map[string]string) Metadata {
	meta := Metadata{
		SubmissionID: fields[fieldSubmission],
		SourceURL:    fields[fieldSource],
		ContentType:  fields[fieldContentType],
		Digest:       fields[fieldDigest],
		Retention:    RetentionClass(fields[fieldRetention]),
	}
	meta.SizeBytes, _ = strconv.ParseInt(fields[fieldSize], 10, 64)
	meta.Redacted, _ = strconv.ParseBool(fields[fieldRedacted])
	meta.StoredAt, _ = time.Parse(time.RFC3339Nano, fields[fieldStoredAt])
	return meta
}

func digest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Pointer formats the public reference for a snapshot id.
func Pointer(id string) string {
	return pointerScheme + id
}

// IDFromPointer parses a pointer produced by Pointer.
func IDFromPointer(ptr string) (string, error) {
	id, ok := strings.CutPrefix(strings.TrimSpace(ptr), pointerScheme)
	if !ok {
		return "", fmt.Errorf("invalid artifact pointer %q", ptr)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid artifact pointer %q", ptr)
	}
	return id, nil
}

func ttlFromEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func snapshotKey(id string) string { return keyPrefix + id }

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	submissionKeyPrefix   = "registry:submission:"
	entryKeyPrefix        = "registry:entry:"
	submissionsIndexKey   = "registry:submissions"
	userIndexKeyPrefix    = "registry:submissions:user:"
	statusIndexKeyPrefix  = "registry:submissions:status:"
	entriesIndexKey       = "registry:entries"
	defaultListLimit      = 100
	maxListLimit          = 1000
	maxTransactionRetries = 5
)

// RedisStore implements Store backed by Redis.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("registry store not initialized")
	}
	return s.client.Ping(ctx).Err()
}

// CreateSubmission stores a new submission; the id must be unused.
func (s *RedisStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	sub.UpdatedAt = sub.SubmittedAt
	if sub.Status == "" {
		sub.Status = StatusPending
	}
	if sub.SubmittedImageURL == "" {
		sub.SubmittedImageURL = sub.ImageURL
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := submissionKey(sub.ID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("submission %s: %w", sub.ID, ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			indexSubmission(ctx, pipe, sub, "")
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	return decodeSubmission(s.client.Get(ctx, submissionKey(id)).Bytes())
}

// ListSubmissions returns submissions newest first.
func (s *RedisStore) ListSubmissions(ctx context.Context, filter ListFilter) ([]Submission, error) {
	index := submissionsIndexKey
	switch {
	case filter.SubmittedBy != "":
		index = userIndexKey(filter.SubmittedBy)
	case filter.Status != "":
		index = statusIndexKey(filter.Status)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, clampLimit(filter.Limit)-1).Result()
	if err != nil {
		return nil, err
	}
	subs, err := s.loadSubmissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, sub := range subs {
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		if filter.SubmittedBy != "" && sub.SubmittedBy != filter.SubmittedBy {
			continue
		}
		out = append(out, sub)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// ApplyValidation writes the outcome only while the submission is pending.
func (s *RedisStore) ApplyValidation(ctx context.Context, id string, v Validation) (bool, error) {
	if !v.Status.Valid() || v.Status == StatusApproved {
		return false, fmt.Errorf("validation status %q: %w", v.Status, ErrInvalid)
	}
	key := submissionKey(id)
	applied := false
	err := s.watch(ctx, func(tx *redis.Tx) error {
		applied = false
		sub, err := decodeSubmission(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		if sub.Status != StatusPending {
			return nil
		}
		prev := sub.Status
		now := time.Now().UTC()
		sub.Status = v.Status
		sub.StatusMessage = v.Message
		sub.UpdatedAt = now
		sub.ValidatedAt = &now
		sub.ManifestSnapshot = v.Snapshot
		if v.Verified {
			sub.Name = v.Name
			sub.Description = v.Description
			sub.Version = v.Version
			sub.ManifestURL = v.ManifestURL
			sub.ImageURL = v.ImageURL
			sub.License = v.License
			sub.PackageURL = v.PackageURL
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			indexSubmission(ctx, pipe, sub, prev)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)
	return applied, err
}

// Approve creates the catalog entry and marks the submission approved atomically.
// An entry left behind for a still-pending submission is reused rather than rewritten.
func (s *RedisStore) Approve(ctx context.Context, id, approver string, at time.Time) (*Entry, error) {
	subKey := submissionKey(id)
	entKey := entryKey(id)
	var entry *Entry
	err := s.watch(ctx, func(tx *redis.Tx) error {
		sub, err := decodeSubmission(tx.Get(ctx, subKey).Bytes())
		if err != nil {
			return err
		}
		if sub.Status != StatusPending {
			return fmt.Errorf("submission %s is %s: %w", id, sub.Status, ErrConflict)
		}
		existing, err := decodeEntry(tx.Get(ctx, entKey).Bytes())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		createEntry := existing == nil
		if createEntry {
			entry = NewEntry(sub, approver, at)
		} else {
			entry = existing
		}
		entryData, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		sub.Status = StatusApproved
		sub.RegistryID = entry.ID
		sub.ApprovedBy = approver
		sub.ApprovedAt = &at
		sub.UpdatedAt = at
		subData, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if createEntry {
				pipe.Set(ctx, entKey, entryData, 0)
				pipe.ZAdd(ctx, entriesIndexKey, redis.Z{Score: float64(entry.ApprovedAt.UnixMilli()), Member: entry.ID})
			}
			pipe.Set(ctx, subKey, subData, 0)
			indexSubmission(ctx, pipe, sub, StatusPending)
			return nil
		})
		return err
	}, subKey, entKey)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reject marks any existing submission rejected.
func (s *RedisStore) Reject(ctx context.Context, id, rejecter string, at time.Time) (*Submission, error) {
	key := submissionKey(id)
	var out *Submission
	err := s.watch(ctx, func(tx *redis.Tx) error {
		sub, err := decodeSubmission(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		prev := sub.Status
		sub.Status = StatusRejected
		sub.RejectedBy = rejecter
		sub.RejectedAt = &at
		sub.UpdatedAt = at
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			indexSubmission(ctx, pipe, sub, prev)
			return nil
		})
		out = sub
		return err
	}, key)
	return out, err
}

// Resubmit resets a non-approved submission to pending and clears prior validation.
func (s *RedisStore) Resubmit(ctx context.Context, id string, at time.Time) (*Submission, error) {
	key := submissionKey(id)
	var out *Submission
	err := s.watch(ctx, func(tx *redis.Tx) error {
		sub, err := decodeSubmission(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		if sub.Status == StatusApproved {
			return fmt.Errorf("submission %s is approved: %w", id, ErrConflict)
		}
		prev := sub.Status
		sub.Status = StatusPending
		sub.StatusMessage = ""
		sub.ManifestURL = ""
		sub.ManifestSnapshot = ""
		sub.ImageURL = sub.OriginalImageURL()
		sub.Version = ""
		sub.License = ""
		sub.PackageURL = ""
		sub.ValidatedAt = nil
		sub.ResubmittedAt = &at
		sub.UpdatedAt = at
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			indexSubmission(ctx, pipe, sub, prev)
			return nil
		})
		out = sub
		return err
	}, key)
	return out, err
}

// ListUnvalidatedPending returns pending submissions that never completed a
// validation run and were queued before the cutoff.
func (s *RedisStore) ListUnvalidatedPending(ctx context.Context, queuedBefore time.Time, limit int64) ([]Submission, error) {
	ids, err := s.client.ZRange(ctx, statusIndexKey(StatusPending), 0, maxListLimit-1).Result()
	if err != nil {
		return nil, err
	}
	subs, err := s.loadSubmissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	out := make([]Submission, 0, len(subs))
	for _, sub := range subs {
		if sub.Status != StatusPending || sub.ValidatedAt != nil {
			continue
		}
		if !sub.QueuedAt().Before(queuedBefore) {
			continue
		}
		out = append(out, sub)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) GetEntry(ctx context.Context, id string) (*Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	return decodeEntry(s.client.Get(ctx, entryKey(id)).Bytes())
}

// ListEntries returns catalog entries, most recently approved first.
func (s *RedisStore) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	ids, err := s.client.ZRevRange(ctx, entriesIndexKey, 0, maxListLimit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(filter.Limit)
	out := make([]Entry, 0, len(vals))
	for _, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		if !entry.Matches(filter) {
			continue
		}
		out = append(out, entry)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("registry store not initialized")
	}
	var err error
	for i := 0; i < maxTransactionRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) loadSubmissions(ctx context.Context, ids []string) ([]Submission, error) {
	if len(ids) == 0 {
		return []Submission{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = submissionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(vals))
	for _, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var sub Submission
		if err := json.Unmarshal([]byte(str), &sub); err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func indexSubmission(ctx context.Context, pipe redis.Pipeliner, sub *Submission, prev Status) {
	score := float64(sub.SubmittedAt.UnixMilli())
	pipe.ZAdd(ctx, submissionsIndexKey, redis.Z{Score: score, Member: sub.ID})
	pipe.ZAdd(ctx, userIndexKey(sub.SubmittedBy), redis.Z{Score: score, Member: sub.ID})
	if prev != "" && prev != sub.Status {
		pipe.ZRem(ctx, statusIndexKey(prev), sub.ID)
	}
	pipe.ZAdd(ctx, statusIndexKey(sub.Status), redis.Z{Score: score, Member: sub.ID})
}

func decodeSubmission(data []byte, err error) (*Submission, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return &sub, nil
}

func decodeEntry(data []byte, err error) (*Entry, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func clampLimit(limit int64) int64 {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func submissionKey(id string) string {
	return submissionKeyPrefix + id
}

func entryKey(id string) string {
	return entryKeyPrefix + id
}

func userIndexKey(uid string) string {
	return userIndexKeyPrefix + uid
}

func statusIndexKey(status Status) string {
	return statusIndexKeyPrefix + string(status)
}

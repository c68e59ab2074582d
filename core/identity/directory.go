package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix   = "identity:user:"
	emailKeyPrefix  = "identity:email:"
	usersIndexKey   = "identity:users"
	maxClaimRetries = 5
)

// Directory stores users and their custom claims in Redis.
type Directory struct {
	client redis.UniversalClient
}

func NewDirectory(client redis.UniversalClient) *Directory {
	return &Directory{client: client}
}

// AddUser registers a user under a fresh uid.
func (d *Directory) AddUser(ctx context.Context, email string) (*User, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("identity directory unavailable")
	}
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email required")
	}
	user := &User{UID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	ok, err := d.client.SetNX(ctx, emailKey(email), user.UID, 0).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserExists
	}
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, userKey(user.UID), data, 0)
	pipe.SAdd(ctx, usersIndexKey, user.UID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = d.client.Del(ctx, emailKey(email)).Err()
		return nil, err
	}
	return user, nil
}

// GetUser returns a user by uid.
func (d *Directory) GetUser(ctx context.Context, uid string) (*User, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("identity directory unavailable")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrUserNotFound
	}
	data, err := d.client.Get(ctx, userKey(uid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	return &user, nil
}

// GetUserByEmail resolves a user by email.
func (d *Directory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("identity directory unavailable")
	}
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	uid, err := d.client.Get(ctx, emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return d.GetUser(ctx, uid)
}

// MergeCustomClaims applies updates on top of the claims stored for uid and
// returns the updated user. The read and the write share one WATCH
// transaction, so a concurrent claim change is retried rather than lost.
func (d *Directory) MergeCustomClaims(ctx context.Context, uid string, updates map[string]any) (*User, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("identity directory unavailable")
	}
	key := userKey(strings.TrimSpace(uid))
	var out *User
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrUserNotFound
			}
			return err
		}
		var user User
		if err := json.Unmarshal(data, &user); err != nil {
			return fmt.Errorf("decode user %s: %w", uid, err)
		}
		user.Claims = MergeClaims(user.Claims, updates)
		updated, err := json.Marshal(&user)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		out = &user
		return err
	}
	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		err := d.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("update claims for %s: %w", uid, redis.TxFailedErr)
}

// ListUsers returns every registered user.
func (d *Directory) ListUsers(ctx context.Context) ([]User, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("identity directory unavailable")
	}
	uids, err := d.client.SMembers(ctx, usersIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(uids))
	for _, uid := range uids {
		user, err := d.GetUser(ctx, uid)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *user)
	}
	return out, nil
}

func userKey(uid string) string {
	return userKeyPrefix + uid
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}

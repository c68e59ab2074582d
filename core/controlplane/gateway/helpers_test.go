package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/identity"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/artifacts"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/review"
)

type stubBus struct {
	mu           sync.Mutex
	published    []publishedMessage
	handlers     map[string]func(*bus.Event) error
	disconnected bool
}

func (b *stubBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disconnected
}

type publishedMessage struct {
	subject string
	event   *bus.Event
}

func (b *stubBus) Publish(subject string, ev *bus.Event) error {
	b.mu.Lock()
	b.published = append(b.published, publishedMessage{subject: subject, event: ev})
	b.mu.Unlock()
	return nil
}

func (b *stubBus) Subscribe(subject, _ string, handler func(*bus.Event) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]func(*bus.Event) error{}
	}
	b.handlers[subject] = handler
	return nil
}

func (b *stubBus) deliver(subject string, ev *bus.Event) error {
	b.mu.Lock()
	handler := b.handlers[subject]
	b.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(ev)
}

func (b *stubBus) subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, msg := range b.published {
		out = append(out, msg.subject)
	}
	return out
}

type testGateway struct {
	srv       *server
	handler   http.Handler
	bus       *stubBus
	store     *registry.RedisStore
	snapshots *artifacts.RedisStore
	dir       *identity.Directory
	signer    *identity.Signer
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	dir := identity.NewDirectory(client)
	store := registry.NewRedisStore(client)
	stub := &stubBus{}
	provider := identity.NewProvider(identity.NewVerifier(kp.Public), dir)
	s := newServer(store, review.NewService(store, provider, stub, nil), stub, nil, nil)
	s.snapshots = artifacts.NewRedisStore(client)
	return &testGateway{
		srv:       s,
		handler:   s.handler(),
		bus:       stub,
		store:     store,
		snapshots: s.snapshots.(*artifacts.RedisStore),
		dir:       dir,
		signer:    identity.NewSigner(kp.Private),
	}
}

func (g *testGateway) user(t *testing.T, email string, admin bool) (string, *identity.User) {
	t.Helper()
	ctx := context.Background()
	user, err := g.dir.AddUser(ctx, email)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	if admin {
		user.Claims = map[string]any{identity.ClaimAdmin: true}
		if _, err := g.dir.MergeCustomClaims(ctx, user.UID, user.Claims); err != nil {
			t.Fatalf("claims: %v", err)
		}
	}
	token, err := g.signer.Issue(user, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token, user
}

func (g *testGateway) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	g.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

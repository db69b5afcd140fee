package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/ratelimit"

	"github.com/neosu-project/neosu/internal/telemetry"
)

const (
	avatarCacheSize  = 256
	avatarRatePerSec = 10
	avatarTimeout    = 15 * time.Second
)

// ErrNoAvatar is returned when the server has no avatar for the user.
var ErrNoAvatar = errors.New("no avatar")

// AvatarStore fetches user avatars from https://a.<endpoint>/<id>, keeping
// them on disk under avatars/<endpoint>/<id> and recently used ones in
// memory.
type AvatarStore struct {
	dataDir   string
	transport Transport
	metrics   *telemetry.Metrics
	cache     *lru.Cache[string, []byte]
	limiter   ratelimit.Limiter

	mu       sync.Mutex
	inflight map[string]*avatarCall
}

type avatarCall struct {
	done chan struct{}
	data []byte
	err  error
}

// NewAvatarStore creates a store rooted at dataDir. metrics may be nil.
func NewAvatarStore(dataDir string, transport Transport, metrics *telemetry.Metrics) (*AvatarStore, error) {
	cache, err := lru.New[string, []byte](avatarCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar cache: %w", err)
	}
	return &AvatarStore{
		dataDir:   dataDir,
		transport: transport,
		metrics:   metrics,
		cache:     cache,
		limiter:   ratelimit.New(avatarRatePerSec),
		inflight:  make(map[string]*avatarCall),
	}, nil
}

// Path returns where the avatar of userID on endpoint is stored.
func (a *AvatarStore) Path(endpoint string, userID int32) string {
	return filepath.Join(a.dataDir, "avatars", endpoint, strconv.Itoa(int(userID)))
}

// Get returns the avatar bytes, downloading them at most once even when
// several callers ask concurrently.
func (a *AvatarStore) Get(ctx context.Context, endpoint string, userID int32) ([]byte, error) {
	if userID <= 0 {
		return nil, ErrNoAvatar
	}

	key := endpoint + "/" + strconv.Itoa(int(userID))
	if data, ok := a.cache.Get(key); ok {
		a.hit("memory")
		return data, nil
	}

	a.mu.Lock()
	if call, ok := a.inflight[key]; ok {
		a.mu.Unlock()
		select {
		case <-call.done:
			return call.data, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &avatarCall{done: make(chan struct{})}
	a.inflight[key] = call
	a.mu.Unlock()

	call.data, call.err = a.load(ctx, endpoint, userID)
	if call.err == nil {
		a.cache.Add(key, call.data)
	}

	a.mu.Lock()
	delete(a.inflight, key)
	a.mu.Unlock()
	close(call.done)

	return call.data, call.err
}

func (a *AvatarStore) load(ctx context.Context, endpoint string, userID int32) ([]byte, error) {
	path := a.Path(endpoint, userID)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		a.hit("disk")
		return data, nil
	}

	a.limiter.Take()
	resp, err := a.transport.Do(ctx, &Request{
		Method:  http.MethodGet,
		URL:     "https://a." + endpoint + "/" + strconv.Itoa(int(userID)),
		Header:  http.Header{"User-Agent": []string{UserAgent}},
		Timeout: avatarTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download avatar %d: %w", userID, err)
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return nil, fmt.Errorf("avatar %d: status %d: %w", userID, resp.StatusCode, ErrNoAvatar)
	}
	a.hit("network")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	if err := os.WriteFile(path, resp.Body, 0644); err != nil {
		return nil, fmt.Errorf("failed to save avatar %d: %w", userID, err)
	}
	return resp.Body, nil
}

// Forget drops the in-memory copy, e.g. after the file was cleaned up.
func (a *AvatarStore) Forget(endpoint string, userID int32) {
	a.cache.Remove(endpoint + "/" + strconv.Itoa(int(userID)))
}

// Purge empties the in-memory cache.
func (a *AvatarStore) Purge() {
	a.cache.Purge()
}

func (a *AvatarStore) hit(source string) {
	if a.metrics != nil {
		a.metrics.AvatarCache.WithLabelValues(source).Inc()
	}
}

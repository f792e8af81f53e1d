// Package affinity binds the steps of a pipeline run to the worker holding
// its local files.
//
// Every activity worker process polls the common task queue and a task
// queue of its own, named by its token. Download runs on the common queue
// and reports the token of whichever worker ran it; every later step of the
// run is scheduled on that token's queue only. A Registry records which
// tokens currently have a live worker so the orchestrator can fail a run
// instead of waiting on a queue nobody polls.
package affinity

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"image-processing-flow/internal/pipeline"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// NewToken names a per-process task queue. The random suffix keeps two
// processes on the same host from sharing a queue.
func NewToken(commonQueue, hostname string) pipeline.AffinityToken {
	host := strings.Trim(unsafeChars.ReplaceAllString(hostname, "-"), "-")
	if host == "" {
		host = "unknown"
	}
	return pipeline.AffinityToken(fmt.Sprintf("%s-%s-%s", commonQueue, host, uuid.NewString()[:8]))
}

type Registry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Registry)

func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

// WithTTL sets how long an announcement lives without being refreshed.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

func NewRegistry(client *redis.Client, opts ...Option) *Registry {
	r := &Registry{
		client: client,
		prefix: "image-processing",
		ttl:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) key(token pipeline.AffinityToken) string {
	return r.prefix + ":worker:" + string(token)
}

// Announce marks token alive for one TTL. value is informational.
func (r *Registry) Announce(ctx context.Context, token pipeline.AffinityToken, value string) error {
	if token == "" {
		return errors.New("empty affinity token")
	}
	if err := r.client.Set(ctx, r.key(token), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *Registry) Alive(ctx context.Context, token pipeline.AffinityToken) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n == 1, nil
}

func (r *Registry) Withdraw(ctx context.Context, token pipeline.AffinityToken) error {
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// KeepAlive re-announces token every interval until ctx is done. Failed
// refreshes are passed to onError and retried on the next tick.
func (r *Registry) KeepAlive(ctx context.Context, token pipeline.AffinityToken, value string, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Announce(ctx, token, value); err != nil && ctx.Err() == nil && onError != nil {
				onError(err)
			}
		}
	}
}

// Package dedup implements the deduplication index: a redis cache mapping
// (content-hash, rule-id, rule-version) to the most recent terminal job,
// with the job store as the authoritative fallback.
//
// A hit lets the uploader clone a completed result instead of re-running
// the pipeline. The cache is advisory: redis being unavailable degrades to
// a database query, never to an error.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/store"
)

// Index resolves dedup triples to prior terminal jobs.
type Index struct {
	client *redis.Client
	jobs   *store.JobStore
	prefix string
	ttl    time.Duration
}

// New creates a dedup index. The redis client may be nil, in which case
// every lookup goes straight to the job store.
func New(cfg config.RedisConfig, jobs *store.JobStore) (*Index, error) {
	idx := &Index{
		jobs:   jobs,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
	}
	if cfg.URL == "" {
		return idx, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	idx.client = redis.NewClient(opts)
	return idx, nil
}

// NewWithClient creates a dedup index on an existing redis client.
// Used by tests.
func NewWithClient(client *redis.Client, jobs *store.JobStore, prefix string, ttl time.Duration) *Index {
	return &Index{client: client, jobs: jobs, prefix: prefix, ttl: ttl}
}

func (i *Index) key(contentHash, ruleID, ruleVersion string) string {
	return fmt.Sprintf("%sdedup:%s:%s:%s", i.prefix, contentHash, ruleID, ruleVersion)
}

// Lookup returns the most recent terminal job for the triple, or
// store.ErrNotFound. The cache holds only the job ID; the job row is
// always re-read so auditor corrections are reflected.
func (i *Index) Lookup(ctx context.Context, contentHash, ruleID, ruleVersion string) (*model.Job, error) {
	if i.client != nil {
		id, err := i.client.Get(ctx, i.key(contentHash, ruleID, ruleVersion)).Result()
		if err == nil && id != "" {
			job, err := i.jobs.Get(ctx, id)
			if err == nil && (job.Status == model.StatusCompleted || job.Status == model.StatusPushSuccess) {
				return job, nil
			}
			// Stale cache entry: fall through to the store query.
		} else if err != nil && !errors.Is(err, redis.Nil) {
			common.Logger.WithError(err).Warn("dedup cache unavailable, falling back to store")
		}
	}

	job, err := i.jobs.FindDuplicate(ctx, contentHash, ruleID, ruleVersion)
	if err != nil {
		return nil, err
	}
	i.cache(ctx, job)
	return job, nil
}

// Record registers a job that reached a terminal success status so later
// uploads of the same document resolve instantly.
func (i *Index) Record(ctx context.Context, job *model.Job) {
	if job.Status != model.StatusCompleted && job.Status != model.StatusPushSuccess {
		return
	}
	i.cache(ctx, job)
}

func (i *Index) cache(ctx context.Context, job *model.Job) {
	if i.client == nil {
		return
	}
	key := i.key(job.ContentHash, job.RuleID, job.RuleVersion)
	if err := i.client.Set(ctx, key, job.ID, i.ttl).Err(); err != nil {
		common.Logger.WithError(err).Warn("failed to update dedup cache")
	}
}

// Close releases the redis connection.
func (i *Index) Close() error {
	if i.client == nil {
		return nil
	}
	return i.client.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// DefaultJobTTL bounds how long job snapshots stay in Redis.
const DefaultJobTTL = 24 * time.Hour

// MetadataCache keeps media-library lookups and job snapshots in Redis
type MetadataCache struct {
	client *redis.Client
	jobTTL time.Duration
}

// NewMetadataCache creates a new cache instance
func NewMetadataCache(host string, port int, password string, db int) (*MetadataCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &MetadataCache{client: client, jobTTL: DefaultJobTTL}, nil
}

// Close closes the Redis connection
func (c *MetadataCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *MetadataCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Media item operations

// SetItem caches playback info of a media item
func (c *MetadataCache) SetItem(ctx context.Context, item *models.MediaItem, ttl time.Duration) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	key := fmt.Sprintf("item:%s", item.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetItem retrieves a media item; a miss returns nil without error
func (c *MetadataCache) GetItem(ctx context.Context, itemID string) (*models.MediaItem, error) {
	key := fmt.Sprintf("item:%s", itemID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get item from cache: %w", err)
	}

	var item models.MediaItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return &item, nil
}

// DeleteItem removes an item from cache
func (c *MetadataCache) DeleteItem(ctx context.Context, itemID string) error {
	key := fmt.Sprintf("item:%s", itemID)
	return c.client.Del(ctx, key).Err()
}

// Job operations

// SetJob stores a job snapshot and indexes it by target filename
func (c *MetadataCache) SetJob(ctx context.Context, job *models.ExtractionJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, ttl)
	pipe.Set(ctx, fmt.Sprintf("job:target:%s", job.TargetFilename), job.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

// GetJob retrieves a job snapshot
func (c *MetadataCache) GetJob(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	key := fmt.Sprintf("job:%s", jobID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.ExtractionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobByTarget retrieves the latest job snapshot for a target filename
func (c *MetadataCache) GetJobByTarget(ctx context.Context, target string) (*models.ExtractionJob, error) {
	id, err := c.client.Get(ctx, fmt.Sprintf("job:target:%s", target)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job index from cache: %w", err)
	}
	return c.GetJob(ctx, id)
}

// JobChanged mirrors registry changes into Redis
func (c *MetadataCache) JobChanged(ctx context.Context, job *models.ExtractionJob) error {
	return c.SetJob(ctx, job, c.jobTTL)
}

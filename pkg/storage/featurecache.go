package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/ml/features"
)

// FeatureCache keeps the latest feature row per patient in Redis. The caller's
// version must change whenever the row's inputs do.
type FeatureCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewFeatureCache(client *redis.Client, ttl time.Duration) *FeatureCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FeatureCache{client: client, ttl: ttl}
}

func featureKey(version, patientID string) string {
	return fmt.Sprintf("thal:features:%s:%s", version, patientID)
}

// Get reports a miss as ok=false with a nil error.
func (c *FeatureCache) Get(ctx context.Context, version, patientID string) (features.Row, bool, error) {
	data, err := c.client.Get(ctx, featureKey(version, patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return features.Row{}, false, nil
	}
	if err != nil {
		return features.Row{}, false, err
	}
	var row features.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return features.Row{}, false, fmt.Errorf("decode cached features: %w", err)
	}
	return row, true, nil
}

func (c *FeatureCache) Put(ctx context.Context, version string, row features.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	key := featureKey(version, row.PatientID)
	logger.Log.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Caching features")
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

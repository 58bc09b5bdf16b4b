package notify

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	jsonitor "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/pkg/types"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// RedisOptions configure a RedisPublisher.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	DialTimeout   time.Duration
	LatestTTL     time.Duration
}

// RedisPublisher broadcasts events over Redis pub/sub, one channel per event
// kind, and keeps the latest published version per dataset in Redis for
// cheap lookups.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Publisher = (*RedisPublisher)(nil)
var _ LatestCache = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection with a
// backed-off ping before returning.
func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, apperrors.Error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	err := retry.Do(func() error {
		return client.Ping(ctx).Err()
	}, retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n).Msg("redis ping failed")
		}))
	if err != nil {
		_ = client.Close()
		return nil, ErrPublisherUnreachable.Err(err)
	}

	return &RedisPublisher{
		client: client,
		prefix: opts.ChannelPrefix,
		ttl:    opts.LatestTTL,
	}, nil
}

// Publish sends the event as JSON on the kind's channel.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.prefix+event.Kind, raw).Err()
}

func (p *RedisPublisher) latestKey(datasetID types.DatasetID) string {
	return p.prefix + "latest." + datasetID.String()
}

// GetLatest returns the cached latest version of the dataset.
func (p *RedisPublisher) GetLatest(ctx context.Context, datasetID types.DatasetID) (string, bool) {
	v, err := p.client.Get(ctx, p.latestKey(datasetID)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Ctx(ctx).Warn().Err(err).Str("dataset", datasetID.String()).Msg("latest-version cache read failed")
		}
		return "", false
	}
	return v, true
}

// SetLatest records the latest version of the dataset, TTL-bounded so stale
// entries age out even if updates stop.
func (p *RedisPublisher) SetLatest(ctx context.Context, datasetID types.DatasetID, version string) {
	if err := p.client.Set(ctx, p.latestKey(datasetID), version, p.ttl).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("dataset", datasetID.String()).Msg("latest-version cache write failed")
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

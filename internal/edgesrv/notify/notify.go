// Package notify fans out store change events and caches the latest
// published version per dataset. Fan-out is best effort everywhere: store
// operations never fail because an event could not be delivered.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/pkg/types"
)

var (
	ErrNotify               apperrors.Error = apperrors.New("notify error")
	ErrPublisherUnreachable apperrors.Error = ErrNotify.New("publisher unreachable")
)

// Event kinds emitted by the store.
const (
	KindDatasetPublished = "dataset.published"
	KindViewMaterialized = "view.materialized"
	KindDocUpserted      = "doc.upserted"
	KindDocDeleted       = "doc.deleted"
	KindTableDropped     = "table.dropped"
)

// Event describes one store change. Fields that do not apply to a kind are
// left empty and omitted on the wire.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	UserID    types.UserID    `json:"user_id,omitempty"`
	DatasetID types.DatasetID `json:"dataset_id,omitempty"`
	Table     string          `json:"table,omitempty"`
	Pk        string          `json:"pk,omitempty"`
	Version   string          `json:"version,omitempty"`
	Count     int             `json:"count,omitempty"`
	Ts        int64           `json:"ts"`
}

// NewEvent returns an Event of the given kind with a fresh id and the
// current timestamp.
func NewEvent(kind string) Event {
	return Event{
		ID:   edgecommon.NewEventId(),
		Kind: kind,
		Ts:   time.Now().Unix(),
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LatestCache stores the latest published version per dataset for cheap
// reads. Entries are advisory: a miss or a stale entry is always recoverable
// from storage.
type LatestCache interface {
	GetLatest(ctx context.Context, datasetID types.DatasetID) (string, bool)
	SetLatest(ctx context.Context, datasetID types.DatasetID, version string)
}

var (
	mu        sync.RWMutex
	publisher Publisher = NopPublisher{}
	cache     LatestCache
)

// SetPublisher installs the process-wide publisher. A publisher that also
// implements LatestCache becomes the latest-version cache as well.
func SetPublisher(p Publisher) {
	mu.Lock()
	defer mu.Unlock()
	if p == nil {
		p = NopPublisher{}
	}
	publisher = p
	if lc, ok := p.(LatestCache); ok {
		cache = lc
	} else {
		cache = nil
	}
}

// Latest returns the configured latest-version cache, or nil when none is
// available.
func Latest() LatestCache {
	mu.RLock()
	defer mu.RUnlock()
	return cache
}

// Emit publishes the event through the configured publisher. Failures are
// logged and swallowed.
func Emit(ctx context.Context, event Event) {
	mu.RLock()
	p := publisher
	mu.RUnlock()
	if err := p.Publish(ctx, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("kind", event.Kind).Msg("unable to publish event")
	}
}

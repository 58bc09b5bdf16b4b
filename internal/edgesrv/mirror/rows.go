package mirror

import (
	"context"
	"encoding/json"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/pkg/types"
)

// Rows is a lazy iterator over the items of one published version, in
// insertion order. Batches are fetched on demand with keyset pagination, so
// arbitrarily large versions stream in constant memory. An unknown version
// yields an empty sequence. Reset rewinds to the first item; because
// published rows are immutable, a replay always sees the same sequence.
type Rows struct {
	datasetID types.DatasetID
	version   string
	batchSize int

	afterID int64
	buf     []json.RawMessage
	pos     int
	eof     bool
}

// GetRows returns an iterator over the version's items. No rows are fetched
// until the first Next call.
func GetRows(ctx context.Context, datasetID types.DatasetID, version string) (*Rows, apperrors.Error) {
	if datasetID.IsNil() || version == "" {
		return nil, dberror.ErrInvalidInput.Msg("dataset id and version are required")
	}
	return &Rows{
		datasetID: datasetID,
		version:   version,
		batchSize: config.Config().Engine.FetchBatchSize,
	}, nil
}

// Next returns the next item. The second return is false when the sequence
// is exhausted.
func (r *Rows) Next(ctx context.Context) (json.RawMessage, bool, apperrors.Error) {
	if r.pos >= len(r.buf) {
		if r.eof {
			return nil, false, nil
		}
		if err := r.fetch(ctx); err != nil {
			return nil, false, err
		}
		if len(r.buf) == 0 {
			return nil, false, nil
		}
	}
	item := r.buf[r.pos]
	r.pos++
	return item, true, nil
}

// Reset rewinds the iterator to the beginning of the sequence.
func (r *Rows) Reset() {
	r.afterID = 0
	r.buf = nil
	r.pos = 0
	r.eof = false
}

func (r *Rows) fetch(ctx context.Context) apperrors.Error {
	rows, err := db.DB(ctx).ListMirrorRows(ctx, r.datasetID, r.version, r.afterID, r.batchSize)
	if err != nil {
		return err
	}
	r.buf = r.buf[:0]
	r.pos = 0
	for _, row := range rows {
		r.buf = append(r.buf, json.RawMessage(row.Item.Bytes))
	}
	if len(rows) > 0 {
		r.afterID = rows[len(rows)-1].ID
	}
	if len(rows) < r.batchSize {
		r.eof = true
	}
	return nil
}

// Package view materializes per-user views: it combines one pinned dataset
// snapshot with the user's context document and appends the derived items to
// an append-only log. Repeated materialization appends again by design;
// deduplication is a reader concern served by LatestPerKey.
package view

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/common/jsruntime"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/pkg/types"
)

// Transform derives one view item from one published row and the user's
// context document. Returning keep=false drops the row from the view.
// Transforms must be pure: they run once per row per materialization and
// their output is persisted.
type Transform func(ctx context.Context, item, ctxDoc json.RawMessage) (json.RawMessage, bool, apperrors.Error)

// Context keys consumed by the engine itself; the default transform never
// copies these into derived items.
const (
	ctxKeyFilters   = "filters"
	ctxKeySort      = "sort"
	ctxKeySelection = "selection"
)

func reservedCtxKey(k string) bool {
	return k == ctxKeyFilters || k == ctxKeySort || k == ctxKeySelection
}

var (
	regMu      sync.RWMutex
	transforms = make(map[types.DatasetID]Transform)
)

// Register installs a transform for the dataset, replacing any prior
// registration. Datasets without a registration use the default pipeline.
func Register(datasetID types.DatasetID, t Transform) {
	regMu.Lock()
	defer regMu.Unlock()
	if t == nil {
		delete(transforms, datasetID)
		return
	}
	transforms[datasetID] = t
}

// RegisterScript compiles src as a JavaScript function of the form
// (item, context) => item and installs it as the dataset's transform. A
// script returning null or undefined drops the row. Script failures abort
// the materialization run.
func RegisterScript(datasetID types.DatasetID, src string) apperrors.Error {
	fn, err := jsruntime.New(src)
	if err != nil {
		return dberror.ErrInvalidInput.Msg("invalid transform script").Err(err)
	}
	Register(datasetID, scriptTransform(fn))
	return nil
}

// Unregister removes the dataset's transform.
func Unregister(datasetID types.DatasetID) {
	regMu.Lock()
	defer regMu.Unlock()
	delete(transforms, datasetID)
}

func lookupTransform(datasetID types.DatasetID) Transform {
	regMu.RLock()
	defer regMu.RUnlock()
	if t, ok := transforms[datasetID]; ok {
		return t
	}
	return defaultTransform
}

func scriptTransform(fn *jsruntime.JSFunction) Transform {
	return func(ctx context.Context, item, ctxDoc json.RawMessage) (json.RawMessage, bool, apperrors.Error) {
		out, err := fn.Run(ctx, item, ctxDoc, jsruntime.Options{
			Timeout: config.Config().TransformTimeout(),
		})
		if err != nil {
			return nil, false, dberror.ErrTransactionAborted.Msg("view transform failed").Err(err)
		}
		if string(out) == "null" {
			return nil, false, nil
		}
		return out, true, nil
	}
}

// defaultTransform is the pipeline applied when no transform is registered:
// drop rows that fail the context's filters, then merge every non-reserved
// top-level context key into the item, overwriting row fields on collision.
func defaultTransform(_ context.Context, item, ctxDoc json.RawMessage) (json.RawMessage, bool, apperrors.Error) {
	pctx := gjson.ParseBytes(ctxDoc)

	if filters := pctx.Get(ctxKeyFilters); filters.IsObject() && !matchFilters(item, filters) {
		return nil, false, nil
	}

	out := []byte(item)
	var mergeErr error
	pctx.ForEach(func(k, v gjson.Result) bool {
		if reservedCtxKey(k.String()) {
			return true
		}
		out, mergeErr = sjson.SetRawBytes(out, k.String(), []byte(v.Raw))
		return mergeErr == nil
	})
	if mergeErr != nil {
		return nil, false, dberror.ErrTransactionAborted.Msg("unable to merge context into item").Err(mergeErr)
	}
	return out, true, nil
}

// matchFilters applies the context's filters object to one item: a scalar
// filter value requires equality, an array requires membership. A row
// missing the field only matches a null filter value.
func matchFilters(item json.RawMessage, filters gjson.Result) bool {
	match := true
	filters.ForEach(func(k, want gjson.Result) bool {
		got := gjson.GetBytes(item, k.String())
		if want.IsArray() {
			found := false
			for _, w := range want.Array() {
				if jsonEqual(got, w) {
					found = true
					break
				}
			}
			if !found {
				match = false
			}
		} else if !jsonEqual(got, want) {
			match = false
		}
		return match
	})
	return match
}

func jsonEqual(got, want gjson.Result) bool {
	if !got.Exists() {
		return want.Type == gjson.Null
	}
	if got.Type == gjson.Number && want.Type == gjson.Number {
		return got.Num == want.Num
	}
	if got.Type == gjson.String && want.Type == gjson.String {
		return got.Str == want.Str
	}
	return got.Type == want.Type && got.Raw == want.Raw
}

// sortBatch orders the derived batch by the context's sort directive
// ({"by": <path>, "desc": bool}) before it is appended. Without a directive
// the snapshot's insertion order is preserved.
func sortBatch(items []json.RawMessage, ctxDoc json.RawMessage) {
	s := gjson.GetBytes(ctxDoc, ctxKeySort)
	if !s.IsObject() {
		return
	}
	by := s.Get("by").String()
	if by == "" {
		return
	}
	desc := s.Get("desc").Bool()
	sort.SliceStable(items, func(i, j int) bool {
		a := gjson.GetBytes(items[i], by)
		b := gjson.GetBytes(items[j], by)
		if desc {
			return lessResult(b, a)
		}
		return lessResult(a, b)
	})
}

// lessResult compares two extracted values: numerically when both are
// numbers, lexically otherwise. Missing values order first ascending.
func lessResult(a, b gjson.Result) bool {
	if a.Type == gjson.Number && b.Type == gjson.Number {
		return a.Num < b.Num
	}
	return a.String() < b.String()
}

package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/anand-gl/jsoncanonicalizer"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
)

// checksumShortLen is how much of the checksum the conventional version
// label carries.
const checksumShortLen = 8

// Checksum returns the content hash of a row batch: the batch is serialized
// as a JSON array, canonicalized (RFC 8785), and hashed with SHA-256. Two
// batches with the same logical content always produce the same checksum
// regardless of key order or whitespace.
func Checksum(rows []json.RawMessage) (string, apperrors.Error) {
	if rows == nil {
		rows = []json.RawMessage{}
	}
	arr, err := json.Marshal(rows)
	if err != nil {
		return "", dberror.ErrInvalidInput.Msg("rows are not valid JSON").Err(err)
	}
	canon, err := jsoncanonicalizer.Transform(arr)
	if err != nil {
		return "", dberror.ErrInvalidInput.Msg("rows cannot be canonicalized").Err(err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// FormatVersion builds the conventional version label for a publish:
// v<ts>.<first 8 checksum chars>. Callers are free to use their own labels;
// the store only requires uniqueness per dataset.
func FormatVersion(ts int64, checksum string) string {
	short := checksum
	if len(short) > checksumShortLen {
		short = short[:checksumShortLen]
	}
	return fmt.Sprintf("v%d.%s", ts, short)
}

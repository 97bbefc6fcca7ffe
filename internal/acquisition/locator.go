package acquisition

import (
	"strings"

	"voice-guard-go/internal/apperr"
)

const scheme = "gs://"

// MsgInvalidLocator is returned verbatim to HTTP callers.
const MsgInvalidLocator = "Invalid storageUrl format"

// Locator addresses one object in blob storage.
type Locator struct {
	Bucket string
	Path   string
}

func (l Locator) String() string { return scheme + l.Bucket + "/" + l.Path }

// ParseLocator accepts gs://{bucket}/{path}. Anything else is a client error.
func ParseLocator(raw string) (Locator, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), scheme)
	if !ok {
		return Locator{}, apperr.Invalid(MsgInvalidLocator)
	}
	bucket, path, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(path, "/") == "" {
		return Locator{}, apperr.Invalid(MsgInvalidLocator)
	}
	return Locator{Bucket: bucket, Path: path}, nil
}

// Package acquisition resolves an incident's audio source into a scratch file.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/types"
)

// ErrNotFound is returned by BlobStore implementations for missing objects.
var ErrNotFound = errors.New("object not found")

// BlobStore is read-only access to remote audio blobs.
type BlobStore interface {
	Open(ctx context.Context, loc Locator) (io.ReadCloser, error)
}

// Source is either inline bytes or a remote locator. Inline wins when both are set.
type Source struct {
	Inline  io.Reader
	Name    string
	Locator string
}

type Acquirer struct {
	store BlobStore
}

func NewAcquirer(store BlobStore) *Acquirer {
	return &Acquirer{store: store}
}

// Acquire writes the source audio into ws and returns it as a native artifact.
// The scratch file gets a fixed name; the caller's name is kept on the artifact.
func (a *Acquirer) Acquire(ctx context.Context, ws *Workspace, src Source) (types.AudioArtifact, error) {
	if src.Inline != nil {
		return a.write(ws, "source"+ext(src.Name), src.Name, src.Inline)
	}

	loc, err := ParseLocator(src.Locator)
	if err != nil {
		return types.AudioArtifact{}, err
	}
	if a.store == nil {
		return types.AudioArtifact{}, apperr.Errorf(apperr.Acquisition, "open blob", "no blob store configured")
	}
	rc, err := a.store.Open(ctx, loc)
	if err != nil {
		return types.AudioArtifact{}, apperr.New(apperr.Acquisition, "open "+loc.String(), err)
	}
	defer rc.Close()
	return a.write(ws, "source"+ext(loc.Path), path.Base(loc.Path), rc)
}

func (a *Acquirer) write(ws *Workspace, name, clientName string, r io.Reader) (types.AudioArtifact, error) {
	dst := ws.Path(name)
	f, err := os.Create(dst)
	if err != nil {
		return types.AudioArtifact{}, apperr.New(apperr.Acquisition, "create scratch file", err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(dst)
		return types.AudioArtifact{}, apperr.New(apperr.Acquisition, "download", err)
	}
	if n == 0 {
		_ = os.Remove(dst)
		return types.AudioArtifact{}, apperr.Errorf(apperr.Acquisition, "download", "empty audio blob")
	}
	return types.AudioArtifact{Path: dst, Name: clientName, Format: types.FormatNative}, nil
}

func ext(name string) string {
	e := strings.ToLower(filepath.Ext(name))
	if e == "" || len(e) > 6 {
		return ".bin"
	}
	return e
}

func (s Source) String() string {
	if s.Inline != nil {
		return fmt.Sprintf("inline:%s", s.Name)
	}
	return s.Locator
}

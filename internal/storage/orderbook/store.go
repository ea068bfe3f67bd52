// Package orderbook persists one immutable JSON record per attempted order.
package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

const (
	defaultOrderbookDir = "./orderbook"
	dirPermissions      = 0o755
	filePermissions     = 0o644
)

// ErrRecordExists is returned when a record for the same timestamp and pair was already written.
var ErrRecordExists = errors.New("order record already exists")

// Writer persists order records keyed by (timestamp, pair).
type Writer interface {
	Write(ctx context.Context, timestamp int64, pair string, record domain.OrderRecord) error
	Exists(ctx context.Context, timestamp int64, pair string) (bool, error)
}

// FileStore writes <dir>/<timestamp>-<pair>.json files. Existing files are never overwritten or appended to.
type FileStore struct {
	dir string
}

// NewFileStore creates the record directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = defaultOrderbookDir
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "create orderbook dir %s", dir)
	}

	return &FileStore{dir: dir}, nil
}

// Path returns the file a record for (timestamp, pair) is written to.
func (s *FileStore) Path(timestamp int64, pair string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d-%s.json", timestamp, sanitizePair(pair)))
}

// Write creates the record file exclusively.
func (s *FileStore) Write(_ context.Context, timestamp int64, pair string, record domain.OrderRecord) (err error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode order record")
	}

	path := s.Path(timestamp, pair)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrap(ErrRecordExists, path)
		}
		return errors.Wrap(err, "create order record")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close order record")
		}
	}()

	if _, err := f.Write(payload); err != nil {
		return errors.Wrap(err, "write order record")
	}

	return errors.Wrap(f.Sync(), "sync order record")
}

// Exists reports whether a record for (timestamp, pair) is already on disk.
func (s *FileStore) Exists(_ context.Context, timestamp int64, pair string) (bool, error) {
	_, err := os.Stat(s.Path(timestamp, pair))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat order record")
}

// sanitizePair keeps exchange symbols as they are and replaces anything that is not safe in a file name.
func sanitizePair(pair string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(pair) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

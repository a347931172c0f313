package storage

import (
	"os"
	"strconv"
	"strings"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// allocateID hands out the next monotonic id for an entity.
//
// The allocator state is a decimal ASCII file holding the next value to
// hand out (1 when absent). The caller must already hold the entity lock;
// the state is advanced with an atomic rename before the value is
// returned, so a crash between allocation and document creation leaves a
// gap, never a duplicate.
func (s *Store) allocateID(entity string) (int64, error) {
	path := s.layout.AllocatorPath(entity)

	next := int64(1)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		parsed, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil || parsed < 1 {
			return 0, resterr.New(resterr.KindStorage, "corrupt allocator state in %s: %q", path, raw)
		}
		next = parsed
	case os.IsNotExist(err):
	default:
		return 0, resterr.Storage(err, "reading allocator state %s", path)
	}

	if err := WriteFileAtomic(path, []byte(strconv.FormatInt(next+1, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

package ledger

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open creates an embedded ledger of the given backend type.
//
// Backends:
//   - memory: process memory, lost on restart (tests, demos)
//   - bolt: single compact B+ tree file, good for modest event volumes
//   - badger: LSM-tree directory, faster writes, larger files
//
// Postgres ledgers are built from a database handle, see
// repository/postgres.NewEventRepository.
func Open(backend BackendType, path string) (Ledger, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryLedger(), nil

	case BackendBolt:
		if !strings.HasSuffix(path, ".bolt") {
			path = filepath.Join(path, "ledger.bolt")
		}
		return NewBoltLedger(path)

	case BackendBadger:
		return NewBadgerLedger(path)

	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", backend)
	}
}

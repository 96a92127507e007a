package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	cbor "github.com/fxamacker/cbor/v2"
)

// formatVersion is bumped whenever Record changes shape.
const formatVersion = 1

// ErrCorrupt is returned by Load when the checksum does not match.
var ErrCorrupt = errors.New("snapshot corrupt")

// Record is the on-disk layout: a small header plus the CBOR-encoded entry
// map. Checksum covers the encoded entries only.
type Record struct {
	Version   int    `cbor:"v"`
	NodeID    string `cbor:"n"`
	WrittenAt int64  `cbor:"t"` // unix nanoseconds
	Checksum  uint64 `cbor:"c"`
	Entries   []byte `cbor:"e"`
}

var encMode cbor.EncMode

func init() {
	// Deterministic map ordering gives identical bytes for identical maps.
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// Save writes the whole map to path, replacing any previous snapshot.
// The file is written next to path and renamed into place.
func Save(path, nodeID string, entries map[string][]byte) error {
	if path == "" {
		return fmt.Errorf("snapshot path is empty")
	}
	if entries == nil {
		entries = map[string][]byte{}
	}

	payload, err := encMode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}

	data, err := encMode.Marshal(&Record{
		Version:   formatVersion,
		NodeID:    nodeID,
		WrittenAt: time.Now().UnixNano(),
		Checksum:  xxhash.Sum64(payload),
		Entries:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save. A missing file is reported with an
// error satisfying errors.Is(err, os.ErrNotExist).
func Load(path string) (map[string][]byte, *Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.Version != formatVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", rec.Version)
	}
	if xxhash.Sum64(rec.Entries) != rec.Checksum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	entries := make(map[string][]byte)
	if err := cbor.Unmarshal(rec.Entries, &entries); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	rec.Entries = nil
	return entries, &rec, nil
}

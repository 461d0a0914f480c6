package core

// Persistence: an append-only block log plus periodic full-state snapshots,
// backed by plain os.MkdirAll/os.WriteFile/os.ReadFile under a mutex, no
// database dependency. Frames reuse the exact C1 archive encoding blocks
// already use on the wire, so the log is byte-identical to what a peer
// would send over GetBlock/Block.

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"synnergy-core/archive"
)

const (
	blockLogFileName  = "blocks.log"
	snapshotFileName  = "state.snapshot"
	persistFrameLimit = 1 << 24 // 16 MiB, matching the net package's frame cap
)

// Store is the on-disk persistence layer for one node's data directory. It
// owns an append-only log of the blocks passed to AppendBlock, in append
// order, plus the most recent full state snapshot. Store does not observe
// the chain itself: a block is logged only when a caller appends it.
type Store struct {
	mu  sync.Mutex
	dir string
}

// OpenStore creates dir if needed and returns a Store rooted there.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}
	return &Store{dir: dir}, nil
}

// AppendBlock writes block to the log, length-prefixed exactly like a net
// frame (u32_be length + archive-encoded payload), so the log can be
// replayed with the same reader used for wire blocks.
func (s *Store) AppendBlock(block *Block) error {
	w := archive.NewWriter(0)
	block.Encode(w)
	payload := w.Bytes()
	if len(payload) > persistFrameLimit {
		return fmt.Errorf("core: block exceeds persisted frame limit (%d bytes)", len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, blockLogFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("core: append block: %w", err)
	}
	defer f.Close()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("core: append block: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("core: append block: %w", err)
	}
	return nil
}

// LoadBlockLog reads every block previously written by AppendBlock, in
// append order, for chain replay on startup.
func (s *Store) LoadBlockLog() ([]*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, blockLogFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: load block log: %w", err)
	}

	var blocks []*Block
	pos := 0
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("core: load block log: truncated frame header at offset %d", pos)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+n > len(data) {
			return nil, fmt.Errorf("core: load block log: truncated frame body at offset %d", pos)
		}
		r := archive.NewReader(data[pos : pos+n])
		block, err := DecodeBlock(r)
		if err != nil {
			return nil, fmt.Errorf("core: load block log: %w", err)
		}
		if err := r.Done(); err != nil {
			return nil, fmt.Errorf("core: load block log: %w", err)
		}
		blocks = append(blocks, block)
		pos += n
	}
	return blocks, nil
}

// SaveSnapshot atomically replaces the stored state snapshot with data
// (the output of Manager.Snapshot). The write goes to a temp file first and
// is renamed into place, so a crash mid-write never corrupts the existing
// snapshot.
func (s *Store) SaveSnapshot(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	final := filepath.Join(s.dir, snapshotFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("core: save snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("core: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored state snapshot, if any. It returns (nil,
// nil) if no snapshot has ever been saved.
func (s *Store) LoadSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: load snapshot: %w", err)
	}
	return data, nil
}

// TruncateBlockLog removes the block log, used after a snapshot has
// absorbed every block up to its depth so the log does not grow without
// bound.
func (s *Store) TruncateBlockLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, blockLogFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("core: truncate block log: %w", err)
	}
	return nil
}

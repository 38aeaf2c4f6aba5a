// Package store implements the incompressible-file store: an append-only,
// compressed-packet log of 128-bit path hashes, safe for concurrent append
// from peer processes on the same machine.
package store

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/golang/snappy"
)

const (
	hashSize = 16
	// maxBatchHashes bounds how many hashes go into one packet so the
	// framed payload comfortably stays under a conservative 4KiB bound,
	// keeping each packet's single Write call atomic under the OS's
	// append guarantee (spec.md §4.3).
	maxBatchHashes = 200
	// DefaultFlushThreshold is how many buffered records trigger an
	// automatic flush.
	DefaultFlushThreshold = 256
)

// Store is the in-memory mirror plus the append-only on-disk log.
// Store.contains is O(1); a reopen observes every hash a prior flush
// completed, even if that flush came from a different process (spec.md
// §4.3 / §8 round-trip law 8).
type Store struct {
	mu             sync.Mutex
	path           string
	set            map[Hash128]struct{}
	pending        []Hash128
	flushThreshold int

	file *os.File // append-mode handle, opened lazily on first Flush that has hashes to write

	// degraded is set once disk I/O fails; the store then serves from
	// memory only for the rest of the session (spec.md §7).
	degraded     bool
	degradedOnce sync.Once
	onDegrade    func(error)
}

// Open loads path's existing packets (if any) into memory and returns a
// Store ready to append. A missing file is not an error — it's treated as
// an empty store, created lazily on first flush.
func Open(path string, flushThreshold int, onDegrade func(error)) (*Store, error) {
	if flushThreshold <= 0 {
		flushThreshold = DefaultFlushThreshold
	}
	s := &Store{
		path:           path,
		set:            make(map[Hash128]struct{}),
		flushThreshold: flushThreshold,
		onDegrade:      onDegrade,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload reads every complete packet from disk into the in-memory set. Any
// trailing partial packet — short length read, truncated length, or a
// decompression failure — is ignored; the store behaves as if the file
// were truncated at the last good boundary.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := bytes.NewReader(data)
	for {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil // no more complete packets
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil // truncated trailing packet
		}
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil // corrupt trailing packet; stop, don't propagate
		}
		for off := 0; off+hashSize <= len(decoded); off += hashSize {
			var h Hash128
			copy(h[:], decoded[off:off+hashSize])
			s.set[h] = struct{}{}
		}
	}
}

// Contains reports whether hash is in the in-memory set: recorded through
// this Store (flushed or not), or loaded from the file at Open, which
// includes whatever peer processes sharing the file had flushed by then.
func (s *Store) Contains(h Hash128) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[h]
	return ok
}

// Record buffers hash for the next flush, applying it to the in-memory set
// immediately (so a same-process Contains sees it right away) and flushing
// automatically once the buffer reaches the configured threshold.
func (s *Store) Record(h Hash128) error {
	s.mu.Lock()
	s.set[h] = struct{}{}
	s.pending = append(s.pending, h)
	shouldFlush := len(s.pending) >= s.flushThreshold
	s.mu.Unlock()

	if shouldFlush {
		return s.Flush()
	}
	return nil
}

// Flush writes every buffered hash to disk as one or more self-framed
// packets, then clears the buffer. After Flush returns nil on a store that
// is not Degraded, a subsequent reopen observes Contains == true for every
// hash recorded since the last flush (spec.md §4.3 invariant, §8 round-trip
// law 8). A disk failure degrades the store instead of being returned; a
// degraded store discards the buffer without writing it.
func (s *Store) Flush() error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.degraded {
		s.pending = s.pending[:0]
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		s.degrade(err)
		return nil
	}

	for start := 0; start < len(batch); start += maxBatchHashes {
		end := start + maxBatchHashes
		if end > len(batch) {
			end = len(batch)
		}
		packet := encodePacket(batch[start:end])
		if _, err := s.file.Write(packet); err != nil {
			s.degrade(err)
			return nil
		}
	}
	if err := s.file.Sync(); err != nil {
		s.degrade(err)
	}
	return nil
}

func (s *Store) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// degrade switches the store to memory-only mode for the remainder of the
// session (spec.md §7: "Incompressible-store I/O failure: non-fatal; store
// degrades to in-memory-only ... a single warning event is emitted").
func (s *Store) degrade(err error) {
	s.degradedOnce.Do(func() {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		if s.onDegrade != nil {
			s.onDegrade(err)
		}
	})
}

// Degraded reports whether the store has fallen back to memory-only mode.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close releases the underlying file handle, if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// encodePacket builds a [u32 length][snappy payload] packet whose payload
// decompresses to the concatenation of hashes. It is the self-framed unit
// spec.md §4.3 calls "Packet".
func encodePacket(hashes []Hash128) []byte {
	raw := make([]byte, 0, len(hashes)*hashSize)
	for _, h := range hashes {
		raw = append(raw, h[:]...)
	}
	payload := snappy.Encode(nil, raw)

	packet := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(packet[:4], uint32(len(payload)))
	copy(packet[4:], payload)
	return packet
}

// Package diaglog persists diagnostic logs in badger and serves them to the
// Diagnostic Logs cluster as a diagnosticlogs.LogDelegate.
//
// Each intent holds one log, stored as a run of chunks plus a metadata record:
//
//	diaglog/<intent>/meta          captured-at, uptime, size, next chunk
//	diaglog/<intent>/c/<seq>       up to ChunkSize bytes
//
// Appends add chunks and drop the oldest ones once the log outgrows
// MaxLogSize. A collection session reads from a read-only transaction, so
// it sees the log as it was when the session started.
package diaglog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/pion/logging"
)

// Store defaults.
const (
	DefaultChunkSize   = 4096
	DefaultMaxLogSize  = 1 << 20
	DefaultMaxSessions = 4
)

// Errors returned by the store.
var (
	ErrClosed        = errors.New("diaglog: store closed")
	ErrTooManyOpen   = errors.New("diaglog: too many open sessions")
	ErrInvalidIntent = errors.New("diaglog: invalid intent")
)

// Config configures a Store.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the store in memory only.
	InMemory bool

	// ChunkSize is the largest chunk an append writes.
	// Defaults to DefaultChunkSize.
	ChunkSize int

	// MaxLogSize bounds each intent's log; the oldest chunks are dropped
	// past it. Defaults to DefaultMaxLogSize.
	MaxLogSize int

	// MaxSessions bounds concurrently open collection sessions.
	// Defaults to DefaultMaxSessions.
	MaxSessions int

	// Now stamps appended logs. Defaults to time.Now.
	Now func() time.Time

	// Uptime reports the node uptime for appended logs. Optional.
	Uptime func() time.Duration

	// LoggerFactory for store logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Record is the metadata kept with a log.
type Record struct {
	// CapturedAt is when the log was last written.
	CapturedAt time.Time

	// Uptime is the node uptime at CapturedAt. Nil if unknown.
	Uptime *time.Duration

	// Size is the log length in bytes.
	Size int
}

// meta is the encoded metadata record.
type meta struct {
	capturedAt int64 // unix nanoseconds
	uptime     int64 // nanoseconds, -1 if unknown
	size       int64
	first      uint32 // oldest chunk
	next       uint32 // next chunk to write
}

const metaSize = 8 + 8 + 8 + 4 + 4

func (m meta) encode() []byte {
	b := make([]byte, metaSize)
	binary.BigEndian.PutUint64(b[0:], uint64(m.capturedAt))
	binary.BigEndian.PutUint64(b[8:], uint64(m.uptime))
	binary.BigEndian.PutUint64(b[16:], uint64(m.size))
	binary.BigEndian.PutUint32(b[24:], m.first)
	binary.BigEndian.PutUint32(b[28:], m.next)
	return b
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) != metaSize {
		return meta{}, fmt.Errorf("diaglog: metadata record is %d bytes", len(b))
	}
	return meta{
		capturedAt: int64(binary.BigEndian.Uint64(b[0:])),
		uptime:     int64(binary.BigEndian.Uint64(b[8:])),
		size:       int64(binary.BigEndian.Uint64(b[16:])),
		first:      binary.BigEndian.Uint32(b[24:]),
		next:       binary.BigEndian.Uint32(b[28:]),
	}, nil
}

func (m meta) record() Record {
	r := Record{CapturedAt: time.Unix(0, m.capturedAt).UTC(), Size: int(m.size)}
	if m.uptime >= 0 {
		d := time.Duration(m.uptime)
		r.Uptime = &d
	}
	return r
}

func metaKey(intent diagnosticlogs.Intent) []byte {
	return []byte(fmt.Sprintf("diaglog/%d/meta", uint8(intent)))
}

func chunkPrefix(intent diagnosticlogs.Intent) []byte {
	return []byte(fmt.Sprintf("diaglog/%d/c/", uint8(intent)))
}

func chunkKey(intent diagnosticlogs.Intent, seq uint32) []byte {
	// Fixed width keeps chunks in write order under badger's byte ordering.
	return []byte(fmt.Sprintf("diaglog/%d/c/%08x", uint8(intent), seq))
}

// Store is a badger-backed diagnostic log store. Safe for concurrent use.
type Store struct {
	db          *badger.DB
	chunkSize   int
	maxLogSize  int
	maxSessions int
	now         func() time.Time
	uptime      func() time.Duration
	log         logging.LeveledLogger

	// writeMu serializes read-modify-write of a log's metadata.
	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	nextID   diagnosticlogs.LogSessionHandle
	sessions map[diagnosticlogs.LogSessionHandle]*session
}

// Open opens or creates a store.
func Open(config Config) (*Store, error) {
	if !config.InMemory && config.Path == "" {
		return nil, fmt.Errorf("diaglog: path is required unless in memory")
	}
	s := &Store{
		chunkSize:   config.ChunkSize,
		maxLogSize:  config.MaxLogSize,
		maxSessions: config.MaxSessions,
		now:         config.Now,
		uptime:      config.Uptime,
		sessions:    make(map[diagnosticlogs.LogSessionHandle]*session),
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.maxLogSize <= 0 {
		s.maxLogSize = DefaultMaxLogSize
	}
	if s.maxSessions <= 0 {
		s.maxSessions = DefaultMaxSessions
	}
	if s.now == nil {
		s.now = time.Now
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("diaglog")
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(newBadgerLogger(s.log))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("diaglog: open: %w", err)
	}
	s.db = db
	return s, nil
}

// Close ends every open session and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[diagnosticlogs.LogSessionHandle]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	return s.db.Close()
}

func checkIntent(intent diagnosticlogs.Intent) error {
	if !intent.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidIntent, uint8(intent))
	}
	return nil
}

func readMeta(txn *badger.Txn, intent diagnosticlogs.Intent) (meta, bool, error) {
	item, err := txn.Get(metaKey(intent))
	if err == badger.ErrKeyNotFound {
		return meta{}, false, nil
	}
	if err != nil {
		return meta{}, false, err
	}
	var m meta
	err = item.Value(func(val []byte) error {
		var derr error
		m, derr = decodeMeta(val)
		return derr
	})
	return m, err == nil, err
}

// Put replaces the log for intent.
func (s *Store) Put(intent diagnosticlogs.Intent, data []byte, rec Record) error {
	if err := checkIntent(intent); err != nil {
		return err
	}
	if len(data) > s.maxLogSize {
		data = data[len(data)-s.maxLogSize:]
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := deleteChunks(txn, intent); err != nil {
			return err
		}
		m := meta{capturedAt: rec.CapturedAt.UnixNano(), uptime: -1}
		if rec.CapturedAt.IsZero() {
			m.capturedAt = s.now().UnixNano()
		}
		if rec.Uptime != nil {
			m.uptime = int64(*rec.Uptime)
		}
		if err := s.writeChunks(txn, intent, &m, data); err != nil {
			return err
		}
		return txn.Set(metaKey(intent), m.encode())
	})
}

// Append adds data to the end of the log for intent, creating it if needed.
// The oldest chunks are dropped once the log exceeds MaxLogSize.
func (s *Store) Append(intent diagnosticlogs.Intent, data []byte) error {
	if err := checkIntent(intent); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, intent)
		if err != nil {
			return err
		}
		if !ok {
			m = meta{uptime: -1}
		}
		m.capturedAt = s.now().UnixNano()
		m.uptime = -1
		if s.uptime != nil {
			m.uptime = int64(s.uptime())
		}
		if err := s.writeChunks(txn, intent, &m, data); err != nil {
			return err
		}
		if err := s.trim(txn, intent, &m); err != nil {
			return err
		}
		return txn.Set(metaKey(intent), m.encode())
	})
}

func (s *Store) writeChunks(txn *badger.Txn, intent diagnosticlogs.Intent, m *meta, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), s.chunkSize)
		chunk := make([]byte, n)
		copy(chunk, data[:n])
		if err := txn.Set(chunkKey(intent, m.next), chunk); err != nil {
			return err
		}
		m.next++
		m.size += int64(n)
		data = data[n:]
	}
	return nil
}

// trim drops whole chunks from the front while the log is too large. The
// last chunk dropped may leave the log a little under MaxLogSize.
func (s *Store) trim(txn *badger.Txn, intent diagnosticlogs.Intent, m *meta) error {
	for m.size > int64(s.maxLogSize) && m.first < m.next {
		key := chunkKey(intent, m.first)
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			m.size -= item.ValueSize()
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		m.first++
	}
	return nil
}

func deleteChunks(txn *badger.Txn, intent diagnosticlogs.Intent) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = chunkPrefix(intent)
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes the log for intent.
func (s *Store) Clear(intent diagnosticlogs.Intent) error {
	if err := checkIntent(intent); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deleteChunks(txn, intent); err != nil {
			return err
		}
		err := txn.Delete(metaKey(intent))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Stat returns the metadata of the log for intent, or diagnosticlogs.ErrNoLogs.
func (s *Store) Stat(intent diagnosticlogs.Intent) (Record, error) {
	if err := checkIntent(intent); err != nil {
		return Record{}, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, intent)
		if err != nil {
			return err
		}
		if !ok || m.size == 0 {
			return diagnosticlogs.ErrNoLogs
		}
		rec = m.record()
		return nil
	})
	return rec, err
}

// Read returns the whole log for intent.
func (s *Store) Read(intent diagnosticlogs.Intent) ([]byte, Record, error) {
	if err := checkIntent(intent); err != nil {
		return nil, Record{}, err
	}
	var (
		out []byte
		rec Record
	)
	err := s.db.View(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, intent)
		if err != nil {
			return err
		}
		if !ok || m.size == 0 {
			return diagnosticlogs.ErrNoLogs
		}
		rec = m.record()
		out = make([]byte, 0, m.size)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix(intent)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				out = append(out, val...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, rec, err
}

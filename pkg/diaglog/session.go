package diaglog

import (
	"sync"

	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/pion/logging"
)

// session streams one log from a read-only snapshot.
type session struct {
	mu      sync.Mutex
	txn     *badger.Txn
	it      *badger.Iterator
	pending []byte
	done    bool
}

func (sess *session) collect(buf []byte) (int, bool, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done {
		return 0, false, ErrClosed
	}

	n := 0
	for n < len(buf) {
		if len(sess.pending) == 0 {
			if !sess.it.Valid() {
				break
			}
			v, err := sess.it.Item().ValueCopy(nil)
			if err != nil {
				return n, false, err
			}
			sess.pending = v
			sess.it.Next()
		}
		c := copy(buf[n:], sess.pending)
		sess.pending = sess.pending[c:]
		n += c
	}
	return n, len(sess.pending) == 0 && !sess.it.Valid(), nil
}

func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done {
		return
	}
	sess.done = true
	sess.it.Close()
	sess.txn.Discard()
}

// StartLogCollection implements diagnosticlogs.LogDelegate.
func (s *Store) StartLogCollection(intent diagnosticlogs.Intent) (diagnosticlogs.LogSession, error) {
	if err := checkIntent(intent); err != nil {
		return diagnosticlogs.LogSession{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return diagnosticlogs.LogSession{}, ErrClosed
	}
	if len(s.sessions) >= s.maxSessions {
		return diagnosticlogs.LogSession{}, ErrTooManyOpen
	}

	txn := s.db.NewTransaction(false)
	m, ok, err := readMeta(txn, intent)
	if err != nil {
		txn.Discard()
		return diagnosticlogs.LogSession{}, err
	}
	if !ok || m.size == 0 {
		txn.Discard()
		return diagnosticlogs.LogSession{}, diagnosticlogs.ErrNoLogs
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = chunkPrefix(intent)
	it := txn.NewIterator(opts)
	it.Rewind()

	handle := s.allocHandle()
	s.sessions[handle] = &session{txn: txn, it: it}

	rec := m.record()
	if s.log != nil {
		s.log.Debugf("session %d: %s log, %d bytes", handle, intent, rec.Size)
	}
	return diagnosticlogs.LogSession{
		Handle:        handle,
		UTCTimestamp:  rec.CapturedAt,
		TimeSinceBoot: rec.Uptime,
	}, nil
}

// allocHandle picks an unused handle. s.mu must be held.
func (s *Store) allocHandle() diagnosticlogs.LogSessionHandle {
	for {
		s.nextID++
		if s.nextID == 0 {
			continue
		}
		if _, used := s.sessions[s.nextID]; !used {
			return s.nextID
		}
	}
}

func (s *Store) lookup(handle diagnosticlogs.LogSessionHandle) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sess, ok := s.sessions[handle]
	if !ok {
		return nil, diagnosticlogs.ErrUnknownSession
	}
	return sess, nil
}

// CollectLog implements diagnosticlogs.LogDelegate.
func (s *Store) CollectLog(handle diagnosticlogs.LogSessionHandle, buf []byte) (int, bool, error) {
	sess, err := s.lookup(handle)
	if err != nil {
		return 0, false, err
	}
	return sess.collect(buf)
}

// EndLogCollection implements diagnosticlogs.LogDelegate.
func (s *Store) EndLogCollection(handle diagnosticlogs.LogSessionHandle) error {
	s.mu.Lock()
	sess, ok := s.sessions[handle]
	delete(s.sessions, handle)
	s.mu.Unlock()
	if !ok {
		return diagnosticlogs.ErrUnknownSession
	}
	sess.close()
	return nil
}

// GetSizeForIntent implements diagnosticlogs.LogDelegate.
func (s *Store) GetSizeForIntent(intent diagnosticlogs.Intent) (int, error) {
	rec, err := s.Stat(intent)
	if err != nil {
		return 0, err
	}
	return rec.Size, nil
}

// OpenSessions returns the number of open collection sessions.
func (s *Store) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// badgerLogger routes badger's logging to a pion logger.
type badgerLogger struct {
	log logging.LeveledLogger
}

func newBadgerLogger(log logging.LeveledLogger) badger.Logger {
	if log == nil {
		return nil
	}
	return badgerLogger{log: log}
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Tracef(format, args...) }

// Verify Store implements diagnosticlogs.LogDelegate.
var _ diagnosticlogs.LogDelegate = (*Store)(nil)

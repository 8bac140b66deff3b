// Package journal records the per-file progress of a backup and the move
// out of the home directory in a Badger database, so an interrupted run can
// tell which files were copied, verified, and committed.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
)

var logger = logging.Get("journal")

// State is the lifecycle state of one backed-up file.
type State string

// File states in the order they are reached.
const (
	StateCopied    State = "copied"
	StateVerified  State = "verified"
	StateCommitted State = "committed"
)

func (s State) rank() int {
	switch s {
	case StateCopied:
		return 1
	case StateVerified:
		return 2
	case StateCommitted:
		return 3
	default:
		return 0
	}
}

// Key prefixes
const (
	prefixFile    = "f:" // per-file state
	prefixSession = "s:" // session records
	schemaKey     = "m:__schema__"
)

// CurrentSchemaVersion is the journal layout version.
const CurrentSchemaVersion = 1

var (
	// ErrNotFound is returned when a path has no journal entry.
	ErrNotFound = errors.New("journal entry not found")

	// ErrInvalidTransition is returned when a state would move backwards or
	// skip a step.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Entry is the recorded state of one file.
type Entry struct {
	Path      string    `json:"path"`
	State     State     `json:"state"`
	Checksum  string    `json:"checksum,omitempty"`
	Session   string    `json:"session"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session describes one run that wrote to the journal.
type Session struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Journal is the Badger-backed file state journal.
type Journal struct {
	db      *badger.DB
	dir     string
	session string
}

// Open opens or creates the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	j, err := open(opts)
	if err != nil {
		if rerr := recoverStaleLock(dir); rerr != nil {
			return nil, rerr
		}
		if j, err = open(opts); err != nil {
			return nil, err
		}
	}

	j.dir = dir
	if err := writeOwner(dir); err != nil {
		logger.Warn("recording journal owner", "dir", dir, "error", err)
	}
	return j, nil
}

// OpenInMemory opens a journal that is discarded on Close.
func OpenInMemory() (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Journal, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := &Journal{db: db, session: uuid.NewString()}
	if err := j.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j.dir != "" {
		_ = os.Remove(filepath.Join(j.dir, ownerFile))
	}
	return j.db.Close()
}

// SessionID identifies this process's writes.
func (j *Journal) SessionID() string {
	return j.session
}

// Begin records the start of a run of the given kind ("backup",
// "home-cleanup") under this journal's session id.
func (j *Journal) Begin(kind string) error {
	s := Session{ID: j.session, Kind: kind, StartedAt: time.Now().UTC()}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSession+s.ID), data)
	})
}

// Sessions returns recorded sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	var out []Session
	err := j.scan(prefixSession, func(val []byte) error {
		var s Session
		if err := json.Unmarshal(val, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, err
}

// Record moves path to state. Re-recording the current state is allowed;
// moving backwards or skipping a state is not. checksum may be empty to keep
// the stored one.
func (j *Journal) Record(path string, state State, checksum string) error {
	if state.rank() == 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, state)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixFile + path)
		var cur Entry
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
				return err
			}
		}

		from, to := cur.State.rank(), state.rank()
		if to != from && to != from+1 {
			return fmt.Errorf("%w: %s from %q to %q", ErrInvalidTransition, path, cur.State, state)
		}

		next := Entry{
			Path:      path,
			State:     state,
			Checksum:  cur.Checksum,
			Session:   j.session,
			UpdatedAt: time.Now().UTC(),
		}
		if checksum != "" {
			next.Checksum = checksum
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// Get returns the entry for path.
func (j *Journal) Get(path string) (*Entry, error) {
	var e Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixFile + path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &e) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// StateOf returns the state of path, or "" when it has none.
func (j *Journal) StateOf(path string) State {
	e, err := j.Get(path)
	if err != nil {
		return ""
	}
	return e.State
}

// Entries returns every file entry sorted by path.
func (j *Journal) Entries() ([]Entry, error) {
	var out []Entry
	err := j.scan(prefixFile, func(val []byte) error {
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Counts returns how many files are in each state.
func (j *Journal) Counts() (map[State]int, error) {
	entries, err := j.Entries()
	if err != nil {
		return nil, err
	}
	counts := make(map[State]int, 3)
	for _, e := range entries {
		counts[e.State]++
	}
	return counts, nil
}

// Reset drops every file entry. Sessions are kept.
func (j *Journal) Reset() error {
	if err := j.db.DropPrefix([]byte(prefixFile)); err != nil {
		return fmt.Errorf("resetting journal: %w", err)
	}
	logger.Debug("journal reset", "session", j.session)
	return nil
}

func (j *Journal) scan(prefix string, fn func(val []byte) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journal) ensureSchema() error {
	var cur *schema
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cur = &schema{}
			return json.Unmarshal(val, cur)
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("reading journal schema: %w", err)
	}
	if cur != nil {
		if cur.Version > CurrentSchemaVersion {
			return fmt.Errorf("journal schema %d is newer than supported %d", cur.Version, CurrentSchemaVersion)
		}
		return nil
	}

	data, err := json.Marshal(schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// Package savestore keeps save slots in SQLite. A slot holds a heap
// snapshot and the execution state of every running thread.
package savestore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/rpgcode/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("rpgcode.savestore")

// ErrSlotNotFound indicates the requested slot doesn't exist
var ErrSlotNotFound = errors.New("save slot not found")

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	name     TEXT PRIMARY KEY,
	saved_at INTEGER NOT NULL,
	heap     BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS threads (
	slot  TEXT NOT NULL REFERENCES slots(name) ON DELETE CASCADE,
	seq   INTEGER NOT NULL,
	name  TEXT NOT NULL,
	file  TEXT NOT NULL,
	state BLOB NOT NULL,
	PRIMARY KEY (slot, seq)
);`

// Store handles SQLite storage for save slots
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// Now stamps saved slots. Tests replace it.
	Now func() time.Time
}

// ThreadRecord is the saved state of one thread.
type ThreadRecord struct {
	Name  string
	File  string
	State []byte
}

// Slot is a loaded save slot.
type Slot struct {
	Name    string
	SavedAt time.Time
	Heap    []byte
	Threads []ThreadRecord
}

// SlotInfo describes a slot without its data.
type SlotInfo struct {
	Name    string
	SavedAt time.Time
	Threads int
}

// Open opens (creating if needed) the save database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps the foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened save database %s", path)
	return &Store{db: db, Now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put writes a slot, replacing any slot of the same name. A zero SavedAt
// is stamped with the current time.
func (s *Store) Put(slot *Slot) error {
	if slot.SavedAt.IsZero() {
		slot.SavedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving slot %q: %w", slot.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM slots WHERE name = ?", slot.Name); err != nil {
		return fmt.Errorf("saving slot %q: %w", slot.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO slots (name, saved_at, heap) VALUES (?, ?, ?)",
		slot.Name, slot.SavedAt.UnixNano(), slot.Heap); err != nil {
		return fmt.Errorf("saving slot %q: %w", slot.Name, err)
	}
	for i, th := range slot.Threads {
		if _, err := tx.Exec("INSERT INTO threads (slot, seq, name, file, state) VALUES (?, ?, ?, ?, ?)",
			slot.Name, i, th.Name, th.File, th.State); err != nil {
			return fmt.Errorf("saving thread %q of slot %q: %w", th.Name, slot.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving slot %q: %w", slot.Name, err)
	}

	log.Infof("saved slot %q (%d threads)", slot.Name, len(slot.Threads))
	return nil
}

// Get reads a slot.
func (s *Store) Get(name string) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := &Slot{Name: name}
	var savedAt int64
	err := s.db.QueryRow("SELECT saved_at, heap FROM slots WHERE name = ?", name).Scan(&savedAt, &slot.Heap)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%q: %w", name, ErrSlotNotFound)
		}
		return nil, fmt.Errorf("querying slot %q: %w", name, err)
	}
	slot.SavedAt = time.Unix(0, savedAt)

	rows, err := s.db.Query("SELECT name, file, state FROM threads WHERE slot = ? ORDER BY seq", name)
	if err != nil {
		return nil, fmt.Errorf("querying threads of slot %q: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var th ThreadRecord
		if err := rows.Scan(&th.Name, &th.File, &th.State); err != nil {
			return nil, fmt.Errorf("reading threads of slot %q: %w", name, err)
		}
		slot.Threads = append(slot.Threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading threads of slot %q: %w", name, err)
	}
	return slot, nil
}

// List returns every slot in name order.
func (s *Store) List() ([]SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT s.name, s.saved_at, COUNT(t.seq)
		FROM slots s LEFT JOIN threads t ON t.slot = s.name
		GROUP BY s.name ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var infos []SlotInfo
	for rows.Next() {
		var info SlotInfo
		var savedAt int64
		if err := rows.Scan(&info.Name, &savedAt, &info.Threads); err != nil {
			return nil, fmt.Errorf("listing slots: %w", err)
		}
		info.SavedAt = time.Unix(0, savedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a slot.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM slots WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting slot %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%q: %w", name, ErrSlotNotFound)
	}
	log.Infof("deleted slot %q", name)
	return nil
}

// ---------------------------------------------------------------------------
// Game state
// ---------------------------------------------------------------------------

// Save captures env's heap and the state of every live thread of sched
// into slot name.
func (s *Store) Save(name string, env *vm.Env, sched *vm.Scheduler) error {
	env.Lock()
	slot := &Slot{Name: name, SavedAt: s.now(), Heap: env.SnapshotHeap()}
	for _, t := range sched.Threads() {
		if t.Done() {
			continue
		}
		p := t.Program()
		slot.Threads = append(slot.Threads, ThreadRecord{Name: t.Name, File: p.File(), State: p.Snapshot()})
	}
	env.Unlock()
	return s.Put(slot)
}

// Restore loads slot name into env and replaces the threads of sched with
// the saved ones. Programs are reopened through loader. Nothing is changed
// if a program cannot be reopened or its state does not fit it.
func (s *Store) Restore(name string, env *vm.Env, loader *vm.Loader, sched *vm.Scheduler) error {
	slot, err := s.Get(name)
	if err != nil {
		return err
	}

	programs := make([]*vm.Program, len(slot.Threads))
	for i, th := range slot.Threads {
		p, err := reopen(loader, th.File)
		if err != nil {
			return fmt.Errorf("restoring thread %q: %w", th.Name, err)
		}
		if err := p.Restore(th.State); err != nil {
			return fmt.Errorf("restoring thread %q: %w", th.Name, err)
		}
		programs[i] = p
	}

	env.Lock()
	err = env.RestoreHeap(slot.Heap)
	env.Unlock()
	if err != nil {
		return fmt.Errorf("restoring slot %q: %w", name, err)
	}

	sched.DestroyAll()
	for i, th := range slot.Threads {
		sched.Spawn(th.Name, programs[i])
	}
	log.Infof("restored slot %q (%d threads)", name, len(slot.Threads))
	return nil
}

// reopen opens a program file, or parses file as program text when no
// such file exists.
func reopen(loader *vm.Loader, file string) (*vm.Program, error) {
	if loader.Exists(file) {
		return loader.Open(file)
	}
	return loader.LoadString(file, file)
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

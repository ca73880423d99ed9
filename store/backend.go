package store

import (
	"sort"
	"strconv"
	"sync"

	"github.com/RuiFG/streaming-merge/log"
	"github.com/pkg/errors"
	"github.com/xujiajun/nutsdb"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

type Backend interface {
	// Save stages state of name under checkpoint id.
	Save(id int64, name string, state []byte) error
	// Persist completes checkpoint id, making it the latest one.
	Persist(id int64) error
	// Get returns the state of name in the latest completed checkpoint.
	Get(name string) ([]byte, error)
	Close() error
}

func formatCheckpointId(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseCheckpointId(idStr string) (int64, error) {
	return strconv.ParseInt(idStr, 10, 64)
}

// checkpoints tracks staged and completed checkpoints, shared by every backend.
type checkpoints struct {
	mutex *sync.Mutex
	//staged holds every checkpoint state by id and name
	staged map[int64]map[string][]byte
	//completed are currently completed checkpoint id sorted slice
	completed []int64
	retained  int
}

func newCheckpoints(retained int) *checkpoints {
	if retained <= 0 {
		retained = 1
	}
	return &checkpoints{mutex: &sync.Mutex{}, staged: map[int64]map[string][]byte{}, retained: retained}
}

func (c *checkpoints) save(id int64, name string, state []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	checkpointState, ok := c.staged[id]
	if !ok {
		checkpointState = map[string][]byte{}
		c.staged[id] = checkpointState
	}
	checkpointState[name] = state
}

func (c *checkpoints) complete(id int64) {
	c.completed = append(c.completed, id)
	sort.Slice(c.completed, func(i, j int) bool { return c.completed[i] < c.completed[j] })
}

// expired drops all but the newest retained checkpoints and returns the dropped ids.
func (c *checkpoints) expired() []int64 {
	if len(c.completed) <= c.retained {
		return nil
	}
	deleted := append([]int64{}, c.completed[:len(c.completed)-c.retained]...)
	c.completed = c.completed[len(c.completed)-c.retained:]
	for _, id := range deleted {
		delete(c.staged, id)
	}
	return deleted
}

func (c *checkpoints) get(name string) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.completed) == 0 {
		return nil, ErrCheckpointNotFound
	}
	latest := c.completed[len(c.completed)-1]
	state, ok := c.staged[latest][name]
	if !ok {
		return nil, errors.WithMessagef(ErrCheckpointNotFound, "no state for %s in checkpoint %d", name, latest)
	}
	return state, nil
}

type memory struct {
	*checkpoints
}

func (m *memory) Save(id int64, name string, state []byte) error {
	m.save(id, name, state)
	return nil
}

func (m *memory) Persist(id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.staged[id]; !ok {
		return errors.WithMessagef(ErrCheckpointNotFound, "checkpoint %d", id)
	}
	m.complete(id)
	m.expired()
	return nil
}

func (m *memory) Get(name string) ([]byte, error) {
	return m.get(name)
}

func (m *memory) Close() error { return nil }

// NewMemoryBackend keeps the newest retained checkpoints in memory only.
func NewMemoryBackend(retained int) Backend {
	return &memory{newCheckpoints(retained)}
}

type fs struct {
	*checkpoints
	logger log.Logger
	db     *nutsdb.DB

	persisted int
	merged    int
}

func (r *fs) init() error {
	return r.db.View(func(tx *nutsdb.Tx) error {
		var ids []int64
		if err := tx.IterateBuckets(nutsdb.DataStructureBPTree, "*", func(bucket string) bool {
			if id, err := parseCheckpointId(bucket); err == nil {
				ids = append(ids, id)
			} else {
				r.logger.Warnw("skipping unknown bucket", "bucket", bucket)
			}
			return true
		}); err != nil {
			return errors.WithMessage(err, "unable to iterate checkpoint, the state maybe corrupted")
		}
		for _, id := range ids {
			entries, err := tx.GetAll(formatCheckpointId(id))
			if err != nil {
				return errors.WithMessagef(err, "failed to get %d checkpoint state", id)
			}
			for _, entry := range entries {
				r.save(id, string(entry.Key), entry.Value)
			}
			r.complete(id)
		}
		return nil
	})
}

// Persist writes checkpoint id to the db file and drops expired checkpoints.
func (r *fs) Persist(id int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	checkpointState, ok := r.staged[id]
	if !ok {
		return errors.WithMessagef(ErrCheckpointNotFound, "checkpoint %d", id)
	}
	if err := r.db.Update(func(tx *nutsdb.Tx) error {
		for name, state := range checkpointState {
			if err := tx.Put(formatCheckpointId(id), []byte(name), state, 0); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.WithMessagef(err, "failed to persist %d checkpoint state", id)
	}
	r.complete(id)
	r.persisted++

	if deleted := r.expired(); len(deleted) > 0 {
		if err := r.db.Update(func(tx *nutsdb.Tx) error {
			for _, deletedId := range deleted {
				if err := tx.DeleteBucket(nutsdb.DataStructureBPTree, formatCheckpointId(deletedId)); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			r.logger.Warnw("failed to clear up expired checkpoint data", "error", err)
		}
	}
	if r.merged > 0 && r.persisted%r.merged == 0 {
		if err := r.db.Merge(); err != nil {
			r.logger.Warnw("failed to merge fs state", "error", err)
		}
	}
	return nil
}

func (r *fs) Save(id int64, name string, state []byte) error {
	r.save(id, name, state)
	return nil
}

func (r *fs) Get(name string) ([]byte, error) {
	return r.get(name)
}

func (r *fs) Close() error {
	return r.db.Close()
}

// NewFSBackend stores checkpoints in a nutsdb directory, keeping the newest retained ones
// and merging the data files every merged persisted checkpoints.
func NewFSBackend(logger log.Logger, dir string, retained int, merged int) (Backend, error) {
	opts := nutsdb.DefaultOptions
	opts.SegmentSize = 64 * nutsdb.MB
	opts.Dir = dir
	db, err := nutsdb.Open(opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open checkpoint dir %s", dir)
	}
	if logger == nil {
		logger = log.Global()
	}
	backend := &fs{
		checkpoints: newCheckpoints(retained),
		logger:      logger.Named("fs-backend"),
		db:          db,
		merged:      merged,
	}
	if err = backend.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

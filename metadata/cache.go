package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Backend persists metadata rows. *store.Store implements it.
type Backend interface {
	GetMetadata(ctx context.Context, idb bun.IDB, keys ...string) (map[string]json.RawMessage, error)
	SetMetadata(ctx context.Context, idb bun.IDB, values map[string]any) error
	IncrementMetadata(ctx context.Context, idb bun.IDB, key string, amount int64) error
	AppendMetadata(ctx context.Context, idb bun.IDB, key string, items []any) error
}

type delta struct {
	values     map[Key]any
	increments map[Key]int64
	appends    []DynamicDatasource
}

func newDelta() delta {
	return delta{values: map[Key]any{}, increments: map[Key]int64{}}
}

// keys counts the distinct keys with changes.
func (d delta) keys() int {
	n := len(d.values)
	for k := range d.increments {
		if _, ok := d.values[k]; !ok {
			n++
		}
	}
	if len(d.appends) > 0 {
		if _, ok := d.values[DynamicDatasources]; !ok {
			n++
		}
	}
	return n
}

// Snapshot is the set of metadata changes taken for one flush.
type Snapshot struct {
	Height int64
	delta
}

// Empty reports whether the snapshot carries no changes.
func (s *Snapshot) Empty() bool {
	return s == nil || s.keys() == 0
}

type entry struct {
	value any
	ok    bool
}

// Cache buffers metadata writes between flushes. Reads see pending and in
// flight changes layered over the last known persisted values.
//
// Mutations hold the shared gate for reading; Snapshot expects the caller to
// hold it for writing so the cut is taken across all caches at once.
type Cache struct {
	backend Backend
	db      bun.IDB
	gate    *sync.RWMutex
	logger  *zap.Logger

	mu        sync.Mutex
	pending   delta
	inflight  *Snapshot
	persisted map[Key]entry
	// gen changes whenever persisted values may have moved, so a store read
	// that raced a flush is not cached.
	gen uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithGate shares the snapshot gate with other caches.
func WithGate(gate *sync.RWMutex) Option {
	return func(c *Cache) {
		if gate != nil {
			c.gate = gate
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache reading persisted values through db.
func New(backend Backend, db bun.IDB, opts ...Option) *Cache {
	c := &Cache{
		backend:   backend,
		db:        db,
		gate:      &sync.RWMutex{},
		logger:    zap.NewNop(),
		pending:   newDelta(),
		persisted: map[Key]entry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set overwrites the value of key. Pending increments or appends on the same
// key are discarded.
func (c *Cache) Set(key Key, value any) error {
	v, err := Normalize(key, value)
	if err != nil {
		return err
	}

	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.values[key] = v
	switch key.Kind() {
	case KindIncrement:
		delete(c.pending.increments, key)
	case KindAppend:
		c.pending.appends = nil
	}
	return nil
}

// SetIncrement adds amount to a counter key.
func (c *Cache) SetIncrement(key Key, amount int64) error {
	if key.Kind() != KindIncrement {
		return badKind(key, KindIncrement)
	}

	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.increments[key] += amount
	return nil
}

// SetNewDynamicDatasource appends a datasource to the dynamic datasource
// list.
func (c *Cache) SetNewDynamicDatasource(item DynamicDatasource) error {
	if err := item.Validate(); err != nil {
		return err
	}

	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.appends = append(c.pending.appends, item)
	return nil
}

// Find returns the merged value of key. ok is false when the key has never
// been written.
func (c *Cache) Find(ctx context.Context, key Key) (any, bool, error) {
	out, err := c.FindMany(ctx, key)
	if err != nil {
		return nil, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

// FindMany returns the merged values of keys. Keys without a value are absent
// from the result.
func (c *Cache) FindMany(ctx context.Context, keys ...Key) (map[Key]any, error) {
	for {
		c.mu.Lock()
		var missing []Key
		for _, k := range keys {
			if c.needsBase(k) {
				missing = append(missing, k)
			}
		}
		gen := c.gen
		c.mu.Unlock()

		loaded := map[Key]entry{}
		if len(missing) > 0 {
			var err error
			if loaded, err = c.load(ctx, missing); err != nil {
				return nil, err
			}
		}

		c.mu.Lock()
		if c.gen != gen {
			// a flush committed during the read; loaded may predate it
			c.mu.Unlock()
			continue
		}
		for k, e := range loaded {
			c.persisted[k] = e
		}
		out := make(map[Key]any, len(keys))
		for _, k := range keys {
			if v, ok := c.view(k, c.persisted[k]); ok {
				out[k] = v
			}
		}
		c.mu.Unlock()
		return out, nil
	}
}

// Int returns the value of key as an integer.
func (c *Cache) Int(ctx context.Context, key Key) (int64, bool, error) {
	v, ok, err := c.Find(ctx, key)
	if err != nil || !ok || v == nil {
		return 0, false, err
	}
	n, err := entity.Coerce(entity.Int, v)
	if err != nil {
		return 0, false, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("metadata %s is not an integer", key))
	}
	return n.(int64), true, nil
}

// Datasources returns the merged dynamic datasource list.
func (c *Cache) Datasources(ctx context.Context) ([]DynamicDatasource, error) {
	v, ok, err := c.Find(ctx, DynamicDatasources)
	if err != nil || !ok {
		return nil, err
	}
	list, _ := v.([]DynamicDatasource)
	return list, nil
}

// Pending returns the value written to key since the last snapshot, without
// reading the store.
func (c *Cache) Pending(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.pending.values[key]
	return v, ok
}

// Dirty returns the number of keys with pending changes.
func (c *Cache) Dirty() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.keys()
}

// needsBase reports whether key must be read from the store to be resolved.
func (c *Cache) needsBase(k Key) bool {
	if _, ok := c.persisted[k]; ok {
		return false
	}
	if _, ok := c.pending.values[k]; ok {
		return false
	}
	if c.inflight != nil {
		if _, ok := c.inflight.values[k]; ok {
			// later layers only add to the in flight value
			return false
		}
	}
	return true
}

// view layers in flight and pending changes over base.
func (c *Cache) view(k Key, base entry) (any, bool) {
	v, ok := base.value, base.ok
	layers := make([]*delta, 0, 2)
	if c.inflight != nil {
		layers = append(layers, &c.inflight.delta)
	}
	layers = append(layers, &c.pending)

	for _, d := range layers {
		if x, set := d.values[k]; set {
			v, ok = x, true
		}
		switch k.Kind() {
		case KindIncrement:
			if n, set := d.increments[k]; set {
				v, ok = toInt(v)+n, true
			}
		case KindAppend:
			if len(d.appends) > 0 {
				cur, _ := v.([]DynamicDatasource)
				list := make([]DynamicDatasource, 0, len(cur)+len(d.appends))
				v, ok = append(append(list, cur...), d.appends...), true
			}
		}
	}
	return v, ok
}

func (c *Cache) load(ctx context.Context, keys []Key) (map[Key]entry, error) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	rows, err := c.backend.GetMetadata(ctx, c.db, names...)
	if err != nil {
		return nil, err
	}

	out := make(map[Key]entry, len(keys))
	for _, k := range keys {
		raw, ok := rows[string(k)]
		if !ok {
			out[k] = entry{}
			continue
		}
		v, err := Decode(k, raw)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("decode metadata %s", k))
		}
		out[k] = entry{value: v, ok: v != nil}
	}
	return out, nil
}

// Decode parses a stored metadata value into the type the key holds:
// int64 for counters, []DynamicDatasource for the datasource list.
func Decode(k Key, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch k.Kind() {
	case KindIncrement:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return entity.Coerce(entity.Int, n)
	case KindAppend:
		var list []DynamicDatasource
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize checks value against the kind of key and returns the form it is
// cached and written in.
func Normalize(key Key, value any) (any, error) {
	switch key.Kind() {
	case KindIncrement:
		n, err := entity.Coerce(entity.Int, value)
		if err != nil || n == nil {
			return nil, goerrors.New(fmt.Sprintf("metadata %s needs an integer, got %T", key, value), goerrors.CategoryBadInput)
		}
		return n, nil
	case KindAppend:
		list, ok := value.([]DynamicDatasource)
		if !ok {
			return nil, goerrors.New(fmt.Sprintf("metadata %s needs []DynamicDatasource, got %T", key, value), goerrors.CategoryBadInput)
		}
		for _, d := range list {
			if err := d.Validate(); err != nil {
				return nil, err
			}
		}
		return append([]DynamicDatasource{}, list...), nil
	}
	if _, err := json.Marshal(value); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, fmt.Sprintf("metadata %s is not JSON encodable", key))
	}
	return value, nil
}

func toInt(v any) int64 {
	n, err := entity.Coerce(entity.Int, v)
	if err != nil || n == nil {
		return 0
	}
	return n.(int64)
}

// Snapshot moves pending changes into the in flight slot. Datasources that
// start after cut stay pending. The caller must hold the shared gate for
// writing.
func (c *Cache) Snapshot(cut int64) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return nil, goerrors.Wrap(ErrSnapshotInFlight, goerrors.CategoryInternal, fmt.Sprintf("snapshot at %d", cut)).
			WithSeverity(goerrors.SeverityCritical)
	}

	snap := &Snapshot{Height: cut, delta: newDelta()}
	snap.values, c.pending.values = c.pending.values, map[Key]any{}
	snap.increments, c.pending.increments = c.pending.increments, map[Key]int64{}

	var later []DynamicDatasource
	for _, d := range c.pending.appends {
		if d.StartBlock <= cut {
			snap.appends = append(snap.appends, d)
		} else {
			later = append(later, d)
		}
	}
	c.pending.appends = later

	c.inflight = snap
	return snap, nil
}

// Flush writes a snapshot inside the caller's transaction: overwrites first,
// then one atomic statement per counter, then the datasource append.
func (c *Cache) Flush(ctx context.Context, idb bun.IDB, snap *Snapshot, height int64) error {
	if snap == nil {
		return nil
	}
	if snap.Height != height {
		return heightMismatch("snapshot height", height, snap.Height)
	}
	if v, ok := snap.values[LastProcessedHeight]; ok {
		if h := toInt(v); h != height {
			return heightMismatch(string(LastProcessedHeight), height, h)
		}
	}
	if snap.Empty() {
		return nil
	}

	if len(snap.values) > 0 {
		values := make(map[string]any, len(snap.values))
		for k, v := range snap.values {
			values[string(k)] = v
		}
		if err := c.backend.SetMetadata(ctx, idb, values); err != nil {
			return err
		}
	}

	counters := make([]Key, 0, len(snap.increments))
	for k := range snap.increments {
		counters = append(counters, k)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })
	for _, k := range counters {
		if err := c.backend.IncrementMetadata(ctx, idb, string(k), snap.increments[k]); err != nil {
			return err
		}
	}

	if len(snap.appends) > 0 {
		items := make([]any, len(snap.appends))
		for i, d := range snap.appends {
			items[i] = d
		}
		if err := c.backend.AppendMetadata(ctx, idb, string(DynamicDatasources), items); err != nil {
			return err
		}
	}

	c.logger.Debug("metadata flushed",
		zap.Int64("height", height),
		zap.Int("values", len(snap.values)),
		zap.Int("counters", len(counters)),
		zap.Int("datasources", len(snap.appends)),
	)
	return nil
}

// Clear folds a committed snapshot into the persisted view. Counters and
// lists are dropped from the view and read back on next use, so out of band
// writers are picked up.
func (c *Cache) Clear(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight == snap {
		c.inflight = nil
	}
	for k, v := range snap.values {
		if k.Kind() == KindPlain {
			c.persisted[k] = entry{value: v, ok: true}
		} else {
			delete(c.persisted, k)
		}
	}
	for k := range snap.increments {
		delete(c.persisted, k)
	}
	if len(snap.appends) > 0 {
		delete(c.persisted, DynamicDatasources)
	}
	c.gen++
}

// Restore puts the changes of an aborted snapshot back in front of the
// pending changes.
func (c *Cache) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight == snap {
		c.inflight = nil
	}
	// a key overwritten since the snapshot discards its older changes
	overwritten := make(map[Key]bool, len(c.pending.values))
	for k := range c.pending.values {
		overwritten[k] = true
	}
	for k, v := range snap.values {
		if !overwritten[k] {
			c.pending.values[k] = v
		}
	}
	for k, n := range snap.increments {
		if !overwritten[k] {
			c.pending.increments[k] += n
		}
	}
	if !overwritten[DynamicDatasources] && len(snap.appends) > 0 {
		c.pending.appends = append(append([]DynamicDatasource{}, snap.appends...), c.pending.appends...)
	}
	c.gen++
}

// Reset drops every pending, in flight and cached value.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = newDelta()
	c.inflight = nil
	c.persisted = map[Key]entry{}
	c.gen++
}

package detector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/odoo_bridge/internal/entitymap"
	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/queue"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) byAction(action queue.Action) []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []int64
	for _, j := range q.jobs {
		if j.Action == action {
			ids = append(ids, j.LocalID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type fakeSnapshotter struct {
	snapshot map[int64]entitymap.Mapping
	err      error
}

func (s *fakeSnapshotter) SnapshotForEntityType(_ context.Context, _, _ string) (map[int64]entitymap.Mapping, error) {
	return s.snapshot, s.err
}

type fakeSource struct {
	integration string
	entityType  string
	records     map[int64]module.Record
	err         error
}

func (s *fakeSource) Integration() string { return s.integration }
func (s *fakeSource) EntityType() string  { return s.entityType }
func (s *fakeSource) FetchAll(_ context.Context) (map[int64]module.Record, error) {
	return s.records, s.err
}

// TestPollDiff: mapped records A (unchanged), B (gone) and a new record C.
// Exactly one delete for B and one create for C come out; A stays quiet.
func TestPollDiff(t *testing.T) {
	recordA := module.Record{"id": int64(1), "name": "A"}
	recordC := module.Record{"id": int64(3), "name": "C"}

	source := &fakeSource{
		integration: "shop",
		entityType:  "product",
		records: map[int64]module.Record{
			1: recordA,
			3: recordC,
		},
	}
	snapshotter := &fakeSnapshotter{snapshot: map[int64]entitymap.Mapping{
		1: {RemoteID: 101, ContentHash: module.HashRecord(recordA, "id")},
		2: {RemoteID: 102, ContentHash: "hash-of-b"},
	}}

	q := &fakeQueue{}
	poller := NewPoller(q, snapshotter, source)
	require.NoError(t, poller.Poll(context.Background()))

	assert.Equal(t, []int64{3}, q.byAction(queue.ActionCreate))
	assert.Equal(t, []int64{2}, q.byAction(queue.ActionDelete))
	assert.Empty(t, q.byAction(queue.ActionUpdate))
}

func TestPollDetectsContentChange(t *testing.T) {
	stored := module.Record{"id": int64(1), "name": "Widget", "price": 9.99}
	changed := module.Record{"id": int64(1), "name": "Widget", "price": 10.99}

	source := &fakeSource{
		integration: "shop",
		entityType:  "product",
		records:     map[int64]module.Record{1: changed},
	}
	snapshotter := &fakeSnapshotter{snapshot: map[int64]entitymap.Mapping{
		1: {RemoteID: 101, ContentHash: module.HashRecord(stored, "id")},
	}}

	q := &fakeQueue{}
	require.NoError(t, NewPoller(q, snapshotter, source).Poll(context.Background()))

	assert.Equal(t, []int64{1}, q.byAction(queue.ActionUpdate))
	assert.Empty(t, q.byAction(queue.ActionCreate))
	assert.Empty(t, q.byAction(queue.ActionDelete))
}

// TestPollSourceIsolation: one failing source must not block the others.
func TestPollSourceIsolation(t *testing.T) {
	broken := &fakeSource{
		integration: "events",
		entityType:  "event",
		err:         errors.New("backend down"),
	}
	healthy := &fakeSource{
		integration: "shop",
		entityType:  "product",
		records:     map[int64]module.Record{5: {"id": int64(5), "name": "E"}},
	}
	snapshotter := &fakeSnapshotter{snapshot: map[int64]entitymap.Mapping{}}

	q := &fakeQueue{}
	err := NewPoller(q, snapshotter, broken, healthy).Poll(context.Background())
	require.NoError(t, err, "per-source failures are logged, not propagated")

	assert.Equal(t, []int64{5}, q.byAction(queue.ActionCreate))
}

func TestEventsEnqueue(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	events := NewEvents(q)

	require.NoError(t, events.OnCreated(ctx, "shop", "product", 1))
	require.NoError(t, events.OnSaved(ctx, "shop", "product", 2))
	require.NoError(t, events.OnDeleted(ctx, "shop", "product", 3))

	assert.Equal(t, []int64{1}, q.byAction(queue.ActionCreate))
	assert.Equal(t, []int64{2}, q.byAction(queue.ActionUpdate))
	assert.Equal(t, []int64{3}, q.byAction(queue.ActionDelete))

	for _, j := range q.jobs {
		assert.Equal(t, queue.OriginLocal, j.Origin)
	}
}

// TestEventsImportGuard: hooks fired during an engine write-back must not
// enqueue, or every pull would bounce back as a push forever.
func TestEventsImportGuard(t *testing.T) {
	ctx := module.WithImportGuard(context.Background())
	q := &fakeQueue{}
	events := NewEvents(q)

	require.NoError(t, events.OnCreated(ctx, "shop", "product", 1))
	require.NoError(t, events.OnSaved(ctx, "shop", "product", 2))
	require.NoError(t, events.OnDeleted(ctx, "shop", "product", 3))

	assert.Empty(t, q.jobs)
}

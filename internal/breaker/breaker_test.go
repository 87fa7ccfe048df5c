package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/odoo_bridge/internal/db"
)

// fakeLocker hands out the probe lock according to a script and counts
// acquisitions and releases.
type fakeLocker struct {
	grant    bool
	acquired int
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, _ string) (db.Unlocker, bool, error) {
	if !l.grant {
		return nil, false, nil
	}
	l.acquired++
	return &fakeLock{locker: l}, true, nil
}

type fakeLock struct {
	locker *fakeLocker
}

func (f *fakeLock) Unlock(_ context.Context) error {
	f.locker.released++
	return nil
}

func TestIsAvailableNoState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}))

	b := New(mock, &fakeLocker{}, "odoo")
	available, err := b.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, available)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsAvailableClosed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(2, nil))

	b := New(mock, &fakeLocker{}, "odoo")
	available, err := b.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, available, "failures below threshold leave the circuit closed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsAvailableOpen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	openedAt := time.Now().Add(-10 * time.Second)
	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	locker := &fakeLocker{grant: true}
	b := New(mock, locker, "odoo")
	available, err := b.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, available, "recovery delay not yet elapsed")
	assert.Zero(t, locker.acquired, "no probe is admitted while the window runs")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestHalfOpenSingleProbe checks that once the recovery delay elapses exactly
// one probe is admitted: the first call wins the probe lock, repeat calls from
// the same process are refused until the probe settles.
func TestHalfOpenSingleProbe(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	openedAt := time.Now().Add(-400 * time.Second)
	locker := &fakeLocker{grant: true}
	b := New(mock, locker, "odoo")

	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	available, err := b.IsAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available, "first caller after the window is the probe")
	assert.Equal(t, 1, locker.acquired)

	// second tick while the probe is outstanding
	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	available, err = b.IsAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, available, "probe already outstanding in this process")

	// probe succeeds: circuit closes, probe lock released
	mock.ExpectExec("INSERT INTO circuit_state").
		WithArgs("odoo").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, b.RecordSuccess(ctx))
	assert.Equal(t, 1, locker.released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHalfOpenProbeContention(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	openedAt := time.Now().Add(-400 * time.Second)
	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	// another worker already holds the probe lock
	b := New(mock, &fakeLocker{grant: false}, "odoo")
	available, err := b.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, available)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureOpensAtThreshold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	openedAt := time.Now()
	mock.ExpectQuery("INSERT INTO circuit_state").
		WithArgs("odoo", DefaultFailureThreshold).
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	b := New(mock, &fakeLocker{}, "odoo")
	require.NoError(t, b.RecordFailure(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureBelowThreshold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO circuit_state").
		WithArgs("odoo", DefaultFailureThreshold).
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(1, nil))

	b := New(mock, &fakeLocker{}, "odoo")
	require.NoError(t, b.RecordFailure(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestProbeReleasedOnFailure checks a failed probe re-opens the window and
// gives the lock back so the next window can elect a new probe.
func TestProbeReleasedOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	openedAt := time.Now().Add(-400 * time.Second)
	locker := &fakeLocker{grant: true}
	b := New(mock, locker, "odoo")

	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	available, err := b.IsAvailable(ctx)
	require.NoError(t, err)
	require.True(t, available)

	reopenedAt := time.Now()
	mock.ExpectQuery("INSERT INTO circuit_state").
		WithArgs("odoo", DefaultFailureThreshold).
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(4, &reopenedAt))

	require.NoError(t, b.RecordFailure(ctx))
	assert.Equal(t, 1, locker.released)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReleaseProbeWithoutOutcome covers an admitted probe whose batch turned
// out empty: ReleaseProbe must free the lock without touching the state.
func TestReleaseProbeWithoutOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	openedAt := time.Now().Add(-400 * time.Second)
	locker := &fakeLocker{grant: true}
	b := New(mock, locker, "odoo")

	mock.ExpectQuery("SELECT failures, opened_at FROM circuit_state").
		WithArgs("odoo").
		WillReturnRows(mock.NewRows([]string{"failures", "opened_at"}).AddRow(3, &openedAt))

	available, err := b.IsAvailable(ctx)
	require.NoError(t, err)
	require.True(t, available)

	b.ReleaseProbe(ctx)
	assert.Equal(t, 1, locker.released)

	// releasing again is a no-op
	b.ReleaseProbe(ctx)
	assert.Equal(t, 1, locker.released)
	require.NoError(t, mock.ExpectationsWereMet())
}

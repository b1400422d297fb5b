package logsink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vtrace/internal/clock"
)

func TestSQLSink_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	s, err := OpenSQLite(ctx, path, "run-1")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "run-1", s.Session())

	now := time.Unix(1700000000, 42)
	require.NoError(t, s.Append(ctx, Record{ProcessID: "client", Description: "send", Clock: clock.FromMap(map[string]int64{"client": 1}), Time: now}))
	require.NoError(t, s.Append(ctx, Record{ProcessID: "client", Description: "recv", Clock: clock.FromMap(map[string]int64{"client": 2, "server": 2}), Time: now}))

	// Another session in the same database stays separate
	other, err := OpenSQLite(ctx, path, "")
	require.NoError(t, err)
	defer other.Close()
	assert.NotEmpty(t, other.Session())
	require.NoError(t, other.Append(ctx, Record{ProcessID: "server", Description: "x", Clock: clock.Snapshot{}, Time: now}))

	recs, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "send", recs[0].Description)
	assert.Equal(t, `{"client":2,"server":2}`, recs[1].Clock.Format())
	assert.True(t, recs[1].Time.Equal(now))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(ctx, Record{}), ErrClosed)
}

func TestSQLSink_InsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vtrace_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO vtrace_records").
		WithArgs("s1", "p1", "send", `{"p1":1}`, sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	ctx := context.Background()
	s, err := NewSQLSink(ctx, db, Postgres, "s1")
	require.NoError(t, err)

	err = s.Append(ctx, Record{ProcessID: "p1", Description: "send", Clock: clock.FromMap(map[string]int64{"p1": 1})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// Sink did not open the db, so Close leaves it usable
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_CreateTableFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	_, err = NewSQLSink(context.Background(), db, SQLite, "")
	assert.ErrorContains(t, err, "permission denied")
}

func TestNewSQLSink_UnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLSink(context.Background(), db, Dialect("oracle"), "")
	assert.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?, ?, ?", placeholders(SQLite, 1, 3))
	assert.Equal(t, "$1, $2, $3", placeholders(Postgres, 1, 3))
}

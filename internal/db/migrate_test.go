package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMigrate_AppliesEmbeddedSchema(t *testing.T) {
	db := new(mockDBTX)

	var applied []string
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { applied = append(applied, args.String(1)) }).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, Migrate(context.Background(), db))
	require.NotEmpty(t, applied)
	assert.Contains(t, applied[0], "CREATE TABLE IF NOT EXISTS sms_feedback_jobs")
	assert.Contains(t, applied[0], "CREATE TABLE IF NOT EXISTS sms_feedback_queue")
}

func TestMigrate_PropagatesError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied"))

	err := Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_sms_feedback.sql")
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthProbe(t *testing.T) {
	probe := NewHealthProbe(stubPinger{})
	assert.Equal(t, "database", probe.Name())
	assert.NoError(t, probe.Check(context.Background()))

	failing := NewHealthProbe(stubPinger{err: errors.New("down")})
	assert.Error(t, failing.Check(context.Background()))
}

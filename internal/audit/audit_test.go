package audit

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	sqliteDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func setupRecorder(t *testing.T) *Recorder {
	rec, err := NewRecorder(setupTestDB(t), nil)
	require.NoError(t, err)
	return rec
}

func TestRecord(t *testing.T) {
	rec := setupRecorder(t)

	rec.Record("add", "patients", "P003", map[string]string{"firstName": "Ana"})

	events, err := rec.Events("", "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "add", e.Action)
	assert.Equal(t, "patients", e.Collection)
	assert.Equal(t, "P003", e.RecordID)
	assert.JSONEq(t, `{"firstName":"Ana"}`, string(e.Detail))
	assert.False(t, e.CreatedAt.IsZero())
}

func TestEvents_Filters(t *testing.T) {
	rec := setupRecorder(t)

	rec.Record("add", "patients", "P003", nil)
	rec.Record("update", "patients", "P003", nil)
	rec.Record("add", "vitalSigns", "V2", nil)

	byCollection, err := rec.Events("patients", "", 0)
	require.NoError(t, err)
	assert.Len(t, byCollection, 2)

	byRecord, err := rec.Events("patients", "P003", 0)
	require.NoError(t, err)
	assert.Len(t, byRecord, 2)

	other, err := rec.Events("vitalSigns", "", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "V2", other[0].RecordID)

	none, err := rec.Events("labResults", "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEvents_Limit(t *testing.T) {
	rec := setupRecorder(t)

	for i := 0; i < 10; i++ {
		rec.Record("add", "patients", "P003", nil)
	}

	events, err := rec.Events("", "", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecord_UnencodableDetail(t *testing.T) {
	rec := setupRecorder(t)

	// A channel cannot be marshalled; the event still lands.
	rec.Record("add", "patients", "P003", make(chan int))

	events, err := rec.Events("", "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Detail)
}

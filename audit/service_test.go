package audit_test

import (
	"context"
	"testing"

	"github.com/emberlink/chatd/audit"
	"github.com/emberlink/chatd/model"
	"github.com/emberlink/chatd/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogFlushesOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())

	userID := int64(42)
	svc.Log(audit.Entry{
		TraceID:    "trace-1",
		UserID:     &userID,
		Action:     "login",
		Request:    map[string]string{"username": "alice"},
		Response:   map[string]int64{"user_id": userID},
		IP:         "127.0.0.1",
		DurationMs: 12,
	})
	svc.Log(audit.Entry{
		TraceID: "trace-2",
		Action:  "register",
		Error:   "username already taken",
	})

	svc.Stop(context.Background())

	var rows []model.EventLog
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)

	assert.Equal(t, "trace-1", rows[0].TraceID)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, userID, *rows[0].UserID)
	assert.Equal(t, "login", rows[0].Action)
	assert.Contains(t, string(rows[0].Request), "alice")
	assert.Equal(t, 12, rows[0].DurationMs)

	assert.Nil(t, rows[1].UserID)
	assert.Equal(t, "username already taken", rows[1].Error)
}

func TestStopIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())

	svc.Log(audit.Entry{TraceID: "t", Action: "noop"})
	svc.Stop(context.Background())
	svc.Stop(context.Background())

	var count int64
	require.NoError(t, db.Model(&model.EventLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_Accepts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"join project", `{"event":"join-project","payload":"p1"}`, JoinProject{ProjectID: "p1"}},
		{"leave project", `{"event":"leave-project","payload":"p1"}`, LeaveProject{ProjectID: "p1"}},
		{"join notifications", `{"event":"join-notifications","payload":"u1"}`, JoinNotifications{UserID: "u1"}},
		{
			"task status change",
			`{"event":"task-status-change","payload":{"taskId":"t1","status":"DONE","projectId":"p1"}}`,
			TaskStatusChange{TaskID: "t1", Status: StatusDone, ProjectID: "p1"},
		},
		{
			"extra fields are ignored",
			`{"event":"task-status-change","payload":{"taskId":"t1","status":"REVIEW","projectId":"p1","x":1}}`,
			TaskStatusChange{TaskID: "t1", Status: StatusReview, ProjectID: "p1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `{"event":`, ErrMalformed},
		{"array frame", `["join-project","p1"]`, ErrMalformed},
		{"missing event", `{"payload":"p1"}`, ErrMalformed},
		{"numeric event", `{"event":5}`, ErrMalformed},
		{"unknown event", `{"event":"drop-tables","payload":"x"}`, ErrUnknownEvent},
		{"object where string expected", `{"event":"join-project","payload":{"id":"p1"}}`, ErrInvalidPayload},
		{"empty project id", `{"event":"join-project","payload":""}`, ErrInvalidPayload},
		{"missing payload", `{"event":"leave-project"}`, ErrInvalidPayload},
		{"string where object expected", `{"event":"task-status-change","payload":"t1"}`, ErrInvalidPayload},
		{"bad status", `{"event":"task-status-change","payload":{"taskId":"t1","status":"ARCHIVED","projectId":"p1"}}`, ErrInvalidPayload},
		{"missing task id", `{"event":"task-status-change","payload":{"status":"DONE","projectId":"p1"}}`, ErrInvalidPayload},
		{"wrong field type", `{"event":"task-status-change","payload":{"taskId":7,"status":"DONE","projectId":"p1"}}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeInbound([]byte(tt.raw))
			assert.Nil(t, ev)
			require.ErrorIs(t, err, tt.wantErr)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestDecodeInbound_ErrorCarriesEventName(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"event":"task-status-change","payload":{"taskId":"t1","status":"nope","projectId":"p1"}}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "task-status-change", de.Event)
	assert.Contains(t, de.Error(), "Status:oneof")
}

func TestEncodeInbound_DecodesBack(t *testing.T) {
	for _, ev := range []Inbound{
		JoinProject{ProjectID: "p1"},
		LeaveProject{ProjectID: "p1"},
		JoinNotifications{UserID: "u1"},
		TaskStatusChange{TaskID: "t1", Status: StatusInProgress, ProjectID: "p1"},
	} {
		raw, err := EncodeInbound(ev)
		require.NoError(t, err)
		got, err := DecodeInbound(raw)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestEncode_WireShape(t *testing.T) {
	raw, err := Encode(TaskUpdated{TaskID: "t1", Status: StatusDone, ProjectID: "p1", UpdatedBy: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"task-updated","payload":{"taskId":"t1","status":"DONE","projectId":"p1","updatedBy":"c1"}}`,
		string(raw))

	raw, err = Encode(NewNotification{ID: "n1", Type: "TASK_ASSIGNED", Title: "t", Message: "m", CreatedAt: "x"})
	require.NoError(t, err)
	var env struct {
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	_, hasLink := env.Payload["link"]
	assert.False(t, hasLink, "empty link must be omitted")
}

func TestDecodeOutbound(t *testing.T) {
	raw, err := Encode(UserJoined{UserID: "c1", UserName: "User-c1c1", ProjectID: "p1"})
	require.NoError(t, err)
	ev, err := DecodeOutbound(raw)
	require.NoError(t, err)
	assert.Equal(t, UserJoined{UserID: "c1", UserName: "User-c1c1", ProjectID: "p1"}, ev)

	_, err = DecodeOutbound([]byte(`{"event":"join-project","payload":"p1"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 10, 11, 12, 345_000_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-03-09T09:11:12.345Z", Timestamp(ts))
}

func TestTaskStatusValid(t *testing.T) {
	assert.True(t, StatusTodo.Valid())
	assert.True(t, StatusDone.Valid())
	assert.False(t, TaskStatus("done").Valid())
}

package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMailDeliverTask(t *testing.T) {
	task, err := NewMailDeliverTask("abc123")
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, TaskMailDeliver, task.Type())

	var payload MailDeliverPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "abc123", payload.Guid)
}

func TestMailDeliverPayload_Roundtrip(t *testing.T) {
	original := MailDeliverPayload{Guid: "deadbeef"}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded MailDeliverPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

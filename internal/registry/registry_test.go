package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmailer/restmailer/internal/mail"
)

func TestInsertAndGet(t *testing.T) {
	r := New(nil)
	r.Insert("g1", Item{State: StateSending, TsAdded: 100})

	item, ok := r.Get("g1")
	require.True(t, ok)
	assert.Equal(t, StateSending, item.State)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestAppendEventIsOrderedAndMonotonic(t *testing.T) {
	r := New(nil)
	r.Insert("g1", Item{State: StateSending})
	r.AppendEvent("g1", "mailer", "first")
	r.AppendEvent("g1", "mailer", "second")

	item, _ := r.Get("g1")
	require.Len(t, item.Events, 2)
	assert.Equal(t, "first", item.Events[0].Message)
	assert.Equal(t, "second", item.Events[1].Message)
	assert.LessOrEqual(t, item.Events[0].Ts, item.Events[1].Ts)
}

func TestSetStateRefusesTransitionOutOfTerminal(t *testing.T) {
	r := New(nil)
	r.Insert("g1", Item{State: StateSending})

	r.SetState("g1", StateSended)
	item, _ := r.Get("g1")
	assert.Equal(t, StateSended, item.State)

	r.SetState("g1", StateError)
	item, _ = r.Get("g1")
	assert.Equal(t, StateSended, item.State, "terminal state must not be overwritten")
}

func TestIterateReturnsInsertionOrder(t *testing.T) {
	r := New(nil)
	r.Insert("a", Item{})
	r.Insert("b", Item{})
	r.Insert("c", Item{})

	assert.Equal(t, []string{"a", "b", "c"}, r.Iterate())

	r.Remove("b")
	assert.Equal(t, []string{"a", "c"}, r.Iterate())
}

func TestEvictOldest(t *testing.T) {
	r := New(nil)
	r.Insert("a", Item{})
	r.Insert("b", Item{})

	guid, ok := r.EvictOldest()
	require.True(t, ok)
	assert.Equal(t, "a", guid)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestWithoutAttachmentBodiesStripsContentB64(t *testing.T) {
	item := Item{
		Message: mail.Message{
			Data: []mail.BodyPart{
				{Type: mail.PartText, Text: "hi"},
				{Type: mail.PartAttachment, Name: "f.txt", ContentB64: "aGVsbG8="},
			},
		},
	}
	stripped := item.WithoutAttachmentBodies()
	assert.Equal(t, "hi", stripped.Message.Data[0].Text)
	assert.Empty(t, stripped.Message.Data[1].ContentB64)
	assert.Equal(t, "f.txt", stripped.Message.Data[1].Name)
}

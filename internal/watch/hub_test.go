package watch

import (
	"testing"
	"time"

	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesOnlyUserSubscribers(t *testing.T) {
	h := NewHub()

	ch1, cancel1 := h.Subscribe("u1")
	defer cancel1()
	ch2, cancel2 := h.Subscribe("u2")
	defer cancel2()

	now := time.Now().UTC()
	h.Publish("u1", Update{ID: 42, Seen: true, SeenAt: &now})

	select {
	case upd := <-ch1:
		require.Equal(t, uint64(42), upd.ID)
		require.True(t, upd.Seen)
	case <-time.After(time.Second):
		t.Fatal("u1 subscriber did not receive update")
	}

	select {
	case <-ch2:
		t.Fatal("u2 must not receive u1 updates")
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	require.Equal(t, 1, h.Subscribers("u1"))

	cancel()
	require.Zero(t, h.Subscribers("u1"))

	_, open := <-ch
	require.False(t, open)

	// повторный cancel безопасен
	cancel()
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("u1")
	defer cancel()

	for i := 0; i < 100; i++ {
		h.Publish("u1", Update{ID: uint64(i)})
	}
}

func TestMerge_PartialFieldsOnly(t *testing.T) {
	now := time.Now().UTC()
	list := []*models.Email{
		{ID: 1, Email: "a@example.com", Description: "first"},
		{ID: 2, Email: "b@example.com", Description: "second"},
	}

	Merge(list, Update{ID: 2, Seen: true, SeenAt: &now})

	require.False(t, list[0].Seen)
	require.True(t, list[1].Seen)
	require.Equal(t, &now, list[1].SeenAt)
	// остальные поля не тронуты
	require.Equal(t, "b@example.com", list[1].Email)
	require.Equal(t, "second", list[1].Description)
}

func TestMerge_UnknownIDIsNoop(t *testing.T) {
	list := []*models.Email{{ID: 1}}
	Merge(list, Update{ID: 99, Seen: true})
	require.Len(t, list, 1)
	require.False(t, list[0].Seen)
}

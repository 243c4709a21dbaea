package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	req := race.RefreshRequest{JobID: "pre_race_01_3_20250601", RaceID: "202506010103", Trigger: race.TriggerOneShot}
	id1, err := pub.Publish(context.Background(), "pre-race-refresh", req)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "pre-race-refresh", msgs[0].Topic)

	var decoded race.RefreshRequest
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, req.JobID, decoded.JobID)

	msgs[0].Topic = "modified"
	require.Equal(t, "pre-race-refresh", pub.Messages()[0].Topic)
}

func TestPublisherFailure(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "t", "x")
	require.EqualError(t, err, "broker down")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", "x")
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

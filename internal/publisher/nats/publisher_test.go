package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

type stubStream struct {
	calls []published
	err   error
}

func (s *stubStream) Publish(
	_ context.Context,
	subject string,
	data []byte,
	opts ...jetstream.PublishOpt,
) (*jetstream.PubAck, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: "BOATRACE", Sequence: uint64(len(s.calls))}, nil
}

// TestPublishRefreshRequest ensures the request is published as JSON on the configured topic.
func TestPublishRefreshRequest(t *testing.T) {
	t.Parallel()

	stream := &stubStream{}
	pub := &Publisher{js: stream, prefix: "boatrace"}
	req := race.RefreshRequest{JobID: "pre_race_01_3_20250601", RaceID: "202506010103", Trigger: race.TriggerSweep}

	id, err := pub.Publish(context.Background(), "pre-race-refresh", req)
	require.NoError(t, err)
	require.Equal(t, "BOATRACE:1", id)
	require.Len(t, stream.calls, 1)
	require.Equal(t, "boatrace.pre-race-refresh", stream.calls[0].subject)
	require.Equal(t, 1, stream.calls[0].opts)

	var got race.RefreshRequest
	require.NoError(t, json.Unmarshal(stream.calls[0].data, &got))
	require.Equal(t, req, got)
}

func TestPublishPlainPayloadHasNoMsgID(t *testing.T) {
	t.Parallel()

	stream := &stubStream{}
	pub := &Publisher{js: stream, prefix: "boatrace"}
	_, err := pub.Publish(context.Background(), "boatrace.status", map[string]int{"n": 1})
	require.NoError(t, err)
	require.Equal(t, "boatrace.status", stream.calls[0].subject)
	require.Zero(t, stream.calls[0].opts)
}

func TestPublishError(t *testing.T) {
	t.Parallel()

	pub := &Publisher{js: &stubStream{err: errors.New("no responders")}, prefix: "boatrace"}
	_, err := pub.Publish(context.Background(), "pre-race-refresh", "x")
	require.ErrorContains(t, err, "publish to boatrace.pre-race-refresh")
	require.NoError(t, pub.Close())
}

func TestConnectRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "publisher.nats.url")
}

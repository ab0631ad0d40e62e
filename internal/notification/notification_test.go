package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeNotifier struct {
	subject, body string
	calls         int
}

func (f *fakeNotifier) Send(subject, body string) error {
	f.calls++
	f.subject, f.body = subject, body
	return nil
}

var event = model.AttackEvent{
	ID:         "4b0c5f0e-7d7c-4f63-9f7e-1d2c3b4a5e6f",
	SourceIP:   "203.0.113.7",
	Count:      42,
	DetectedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
}

func TestEmailSink_Publish(t *testing.T) {
	n := &fakeNotifier{}
	sink := NewEmailSink(n)
	require.NoError(t, sink.Publish(context.Background(), []model.AttackEvent{event}))

	assert.Equal(t, 1, n.calls)
	assert.Equal(t, "Go2NetSentinel Alert Summary (1 Triggered)", n.subject)
	assert.True(t, strings.Contains(n.body, "<h1"), "markdown heading rendered to HTML")
	assert.True(t, strings.Contains(n.body, "203.0.113.7"))
	assert.True(t, strings.Contains(n.body, "<table"))

	require.NoError(t, sink.Publish(context.Background(), nil))
	assert.Equal(t, 1, n.calls, "empty batches send nothing")
}

func TestSummaryMarkdown(t *testing.T) {
	md := SummaryMarkdown([]model.AttackEvent{event})
	assert.True(t, strings.Contains(md, "| 203.0.113.7 | 42 |"))
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(event)
	require.NoError(t, err)

	var payload structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &payload))
	fields := payload.GetFields()
	assert.Equal(t, "203.0.113.7", fields["source_ip"].GetStringValue())
	assert.Equal(t, 42.0, fields["count"].GetNumberValue())
	assert.Equal(t, "2026-02-03T04:05:06Z", fields["detected_at"].GetStringValue())
}

func TestBuild_OnlyEmail(t *testing.T) {
	cfg := config.AlertsConfig{SMTP: config.SMTPConfig{Enabled: true, Host: "localhost", Port: 25, To: "ops@example.com"}}
	sinks, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, sinks.List, 1)
	assert.Equal(t, "email", sinks.List[0].Name())
	assert.NoError(t, sinks.Close())

	none, err := Build(context.Background(), config.AlertsConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, none.List)
}

package consumer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseAgentIDFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		agentID string
		wantErr bool
	}{
		{"tracking/agent-1/location", "agent-1", false},
		{"tracking/a3f9/location", "a3f9", false},
		{"tracking//location", "", true},
		{"tracking/agent-1/battery", "", true},
		{"other/agent-1/location", "", true},
		{"tracking/agent-1", "", true},
		{"tracking/agent-1/location/extra", "", true},
	}

	for _, tt := range tests {
		agentID, err := parseAgentIDFromTopic(tt.topic)
		if tt.wantErr {
			assert.Error(t, err, tt.topic)
		} else {
			require.NoError(t, err, tt.topic)
			assert.Equal(t, tt.agentID, agentID)
		}
	}
}

func TestHandleLocationMessage(t *testing.T) {
	ingestor, eval, _ := newTestIngestor(t, newIngestConfig(), 1)
	c := &MQTTConsumer{ingestor: ingestor, logger: zap.NewNop()}

	capturedAt := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	payload := fmt.Sprintf(`{
		"site_id": "site-1",
		"latitude": 40.7128,
		"longitude": -74.0060,
		"accuracy_meters": 5,
		"captured_at": %q,
		"battery_level": 88
	}`, capturedAt)

	require.NoError(t, c.handleLocationMessage("tracking/agent-9/location", []byte(payload)))

	require.Eventually(t, func() bool {
		return len(eval.seen()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	sample := eval.seen()[0]
	assert.Equal(t, "agent-9", sample.AgentID)
	assert.Equal(t, "site-1", sample.SiteID)
	require.NotNil(t, sample.BatteryLevel)
	assert.Equal(t, 88, *sample.BatteryLevel)
}

func TestHandleLocationMessage_RejectionIsNotAnError(t *testing.T) {
	ingestor, _, _ := newTestIngestor(t, newIngestConfig(), 0)
	c := &MQTTConsumer{ingestor: ingestor, logger: zap.NewNop()}

	// 精度超限：拒绝但不算消息处理失败
	payload := fmt.Sprintf(`{
		"site_id": "site-1",
		"latitude": 40.7128,
		"longitude": -74.0060,
		"accuracy_meters": 500,
		"captured_at": %q
	}`, time.Now().UTC().Format(time.RFC3339))

	assert.NoError(t, c.handleLocationMessage("tracking/agent-9/location", []byte(payload)))
}

func TestHandleLocationMessage_InvalidPayload(t *testing.T) {
	ingestor, _, _ := newTestIngestor(t, newIngestConfig(), 0)
	c := &MQTTConsumer{ingestor: ingestor, logger: zap.NewNop()}

	assert.Error(t, c.handleLocationMessage("tracking/agent-9/location", []byte("{not json")))
	assert.Error(t, c.handleLocationMessage("tracking/agent-9/location", []byte(`{"captured_at":"yesterday"}`)))
}

package flowctl

import (
	"context"
	"testing"
	"time"

	flowctlpb "github.com/withobsrvr/flowctl/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Endpoint:          "127.0.0.1:1",
		HeartbeatInterval: time.Second,
		ServiceType:       flowctlpb.ServiceType_SERVICE_TYPE_SOURCE,
		HealthEndpoint:    "http://localhost:8088/health",
	}
}

func TestStartWithUnreachableControlPlaneIsNonFatal(t *testing.T) {
	c := New(testConfig(), func() map[string]float64 { return nil }, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Start(ctx)

	require.Empty(t, c.serviceID)
}

func TestStopWithoutSuccessfulStartIsNoop(t *testing.T) {
	c := New(testConfig(), func() map[string]float64 { return nil }, zap.NewNop())
	c.Stop()
}

// Package flowctl registers this agent with an external flowctl control
// plane and reports periodic metrics heartbeats to it.
package flowctl

import (
	"context"
	"time"

	flowctlpb "github.com/withobsrvr/flowctl/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// MetricsFunc returns a snapshot of this agent's running counters at
// heartbeat time. It is supplied by the caller rather than imported
// directly, so this package never depends on internal/daemon or
// internal/audit.
type MetricsFunc func() map[string]float64

// Config bundles the controller's tunables.
type Config struct {
	Endpoint          string
	HeartbeatInterval time.Duration
	ServiceType       flowctlpb.ServiceType
	HealthEndpoint    string
}

// Controller registers this agent with a flowctl control plane on Start and
// reports a metrics heartbeat on HeartbeatInterval until Stop.
type Controller struct {
	cfg     Config
	metrics MetricsFunc
	logger  *zap.Logger

	conn      *grpc.ClientConn
	client    flowctlpb.ControlPlaneClient
	serviceID string

	stop chan struct{}
	done chan struct{}
}

// New constructs a Controller. No connection is made until Start.
func New(cfg Config, metrics MetricsFunc, logger *zap.Logger) *Controller {
	return &Controller{cfg: cfg, metrics: metrics, logger: logger, stop: make(chan struct{})}
}

// Start dials the control plane, registers this service, and spawns the
// heartbeat loop. A registration failure is logged and treated as
// non-fatal: the agent's own ledger processing never depends on flowctl
// being reachable.
func (c *Controller) Start(ctx context.Context) {
	conn, err := grpc.Dial(c.cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		c.logger.Warn("flowctl: dial control plane failed", zap.String("endpoint", c.cfg.Endpoint), zap.Error(err))
		return
	}
	client := flowctlpb.NewControlPlaneClient(conn)

	registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info := &flowctlpb.ServiceInfo{
		ServiceType:      c.cfg.ServiceType,
		OutputEventTypes: []string{"hvym_pinner.PinEvent", "hvym_pinner.ClaimedEvent", "hvym_pinner.FreedEvent"},
		HealthEndpoint:   c.cfg.HealthEndpoint,
		MaxInflight:      100,
	}

	ack, err := client.Register(registerCtx, info)
	if err != nil {
		conn.Close()
		c.logger.Warn("flowctl: registration failed", zap.Error(err))
		return
	}

	c.conn = conn
	c.client = client
	c.serviceID = ack.ServiceId
	c.done = make(chan struct{})
	c.logger.Info("flowctl: registered with control plane", zap.String("service_id", c.serviceID))

	go c.heartbeatLoop()
}

// heartbeatLoop sends one metrics heartbeat per HeartbeatInterval until
// Stop is called.
func (c *Controller) heartbeatLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sendHeartbeat()
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) sendHeartbeat() {
	heartbeat := &flowctlpb.ServiceHeartbeat{
		ServiceId: c.serviceID,
		Timestamp: timestamppb.Now(),
		Metrics:   c.metrics(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.client.Heartbeat(ctx, heartbeat); err != nil {
		c.logger.Warn("flowctl: heartbeat failed", zap.String("service_id", c.serviceID), zap.Error(err))
		return
	}
	c.logger.Debug("flowctl: heartbeat sent", zap.String("service_id", c.serviceID))
}

// Stop ends the heartbeat loop and closes the control-plane connection. A
// no-op if Start never successfully registered.
func (c *Controller) Stop() {
	if c.conn == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.conn.Close()
}

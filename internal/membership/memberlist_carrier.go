package membership

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// CarrierConfig configures the optional memberlist carrier.
type CarrierConfig struct {
	Enabled       bool
	BindAddr      string
	BindPort      int
	SeedNodes     []string
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
}

// MemberlistCarrier piggybacks the membership table on a memberlist
// cluster. It handles discovery and UDP-level liveness probing;
// the table's own (incarnation, heartbeat) merge stays authoritative for
// replica placement, so a memberlist verdict and a phi verdict never
// conflict on who owns data.
type MemberlistCarrier struct {
	table  *Table
	list   *memberlist.Memberlist
	logger *zap.Logger
}

// NewMemberlistCarrier starts a memberlist instance that gossips the
// table's view as node state and joins the configured seeds.
func NewMemberlistCarrier(cfg CarrierConfig, table *Table, logger *zap.Logger) (*MemberlistCarrier, error) {
	c := &MemberlistCarrier{table: table, logger: logger}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = table.Self().NodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = c
	mlConfig.Events = &carrierEvents{carrier: c}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	c.list = list

	if len(cfg.SeedNodes) > 0 {
		if _, err := list.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}
	return c, nil
}

// NodeMeta implements memberlist.Delegate.
func (c *MemberlistCarrier) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(c.table.Self())
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate.
func (c *MemberlistCarrier) NotifyMsg(data []byte) {
	var remote []model.Member
	if err := json.Unmarshal(data, &remote); err != nil {
		c.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	c.table.Merge(remote)
}

// GetBroadcasts implements memberlist.Delegate.
func (c *MemberlistCarrier) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate.
func (c *MemberlistCarrier) LocalState(join bool) []byte {
	data, _ := json.Marshal(c.table.Snapshot())
	return data
}

// MergeRemoteState implements memberlist.Delegate.
func (c *MemberlistCarrier) MergeRemoteState(buf []byte, join bool) {
	var remote []model.Member
	if err := json.Unmarshal(buf, &remote); err != nil {
		c.logger.Warn("Failed to unmarshal remote state", zap.Error(err))
		return
	}
	c.table.Merge(remote)
}

// Leave broadcasts departure and shuts the memberlist instance down.
func (c *MemberlistCarrier) Leave(timeout time.Duration) error {
	if err := c.list.Leave(timeout); err != nil {
		return fmt.Errorf("failed to leave memberlist cluster: %w", err)
	}
	return c.list.Shutdown()
}

// carrierEvents surfaces memberlist join/leave events into the table.
type carrierEvents struct {
	carrier *MemberlistCarrier
}

// NotifyJoin implements memberlist.EventDelegate.
func (e *carrierEvents) NotifyJoin(node *memberlist.Node) {
	var m model.Member
	if err := json.Unmarshal(node.Meta, &m); err != nil || m.NodeID == "" {
		return
	}
	e.carrier.logger.Info("Node joined via memberlist",
		zap.String("node_id", m.NodeID),
		zap.String("address", m.Address))
	e.carrier.table.Add(m)
}

// NotifyLeave implements memberlist.EventDelegate.
func (e *carrierEvents) NotifyLeave(node *memberlist.Node) {
	e.carrier.logger.Info("Node left via memberlist", zap.String("node_id", node.Name))
	e.carrier.table.SetStatus(node.Name, model.StatusDown)
}

// NotifyUpdate implements memberlist.EventDelegate.
func (e *carrierEvents) NotifyUpdate(node *memberlist.Node) {
	var m model.Member
	if err := json.Unmarshal(node.Meta, &m); err != nil || m.NodeID == "" {
		return
	}
	e.carrier.table.Merge([]model.Member{m})
}

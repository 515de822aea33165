// Package health reports the bridge's health: per-peer link state plus
// process resource usage, served over a small HTTP surface for operators
// and orchestration probes.
package health

import (
	"fmt"
	"time"

	"github.com/qhp-bridge/bridge/pkg/bridge/peer"
)

// LinkSource supplies the current peer link snapshots and each peer's
// durable queue depth.
type LinkSource interface {
	Links() []peer.Link
	QueueDepth(peerName string) int
}

// Checker performs health checks
type Checker struct {
	links LinkSource
}

// NewChecker creates a new health checker
func NewChecker(links LinkSource) *Checker {
	return &Checker{links: links}
}

// CheckAll performs all health checks
func (c *Checker) CheckAll() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	if c.links != nil {
		for _, link := range c.links.Links() {
			ph := CheckPeer(link, c.links.QueueDepth(link.Name))
			status.PeerStatus = append(status.PeerStatus, ph)
			if ph.Status != StatusHealthy {
				if status.Status == StatusHealthy || ph.Status == StatusUnhealthy {
					status.Status = ph.Status
				}
				if ph.Error != "" {
					status.Errors = append(status.Errors, "Peer "+ph.Name+": "+ph.Error)
				}
			}
		}
	}

	status.SystemStatus = CheckSystem()
	if status.SystemStatus.Status != StatusHealthy {
		if status.Status == StatusHealthy {
			status.Status = status.SystemStatus.Status
		} else if status.SystemStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
		if status.SystemStatus.Error != "" {
			status.Errors = append(status.Errors, "System: "+status.SystemStatus.Error)
		}
	}

	return status
}

// CheckPeer grades one peer link. A ready link is healthy; a link mid
// connect or handshake is degraded; a disconnected link with repeated
// backoff attempts is unhealthy.
func CheckPeer(link peer.Link, queueDepth int) *PeerHealth {
	ph := &PeerHealth{
		Name:            link.Name,
		Endpoint:        link.Endpoint,
		LinkStatus:      string(link.Status),
		SelectedVersion: link.SelectedVersion,
		LastActivity:    link.LastActivity,
		BackoffAttempts: link.BackoffAttempts,
		QueueDepth:      queueDepth,
	}

	switch link.Status {
	case peer.StatusReady:
		ph.Status = StatusHealthy
		ph.Connected = true
	case peer.StatusConnecting, peer.StatusHandshaking:
		ph.Status = StatusDegraded
	default:
		if link.BackoffAttempts > 3 {
			ph.Status = StatusUnhealthy
		} else {
			ph.Status = StatusDegraded
		}
		ph.Error = fmt.Sprintf("link %s after %d attempts", link.Status, link.BackoffAttempts)
	}

	return ph
}

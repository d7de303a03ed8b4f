package redis

import (
	"time"

	"github.com/librescoot/velocitydrive-serial/pkg/device"
)

// HistorySink implements registry.HistorySink on top of Client, grounded
// on the teacher's WriteAndPublishString/Publish pattern for pushing
// state changes to watchers without polling.
type HistorySink struct {
	client *Client
	prefix string
}

// NewHistorySink wraps client. Keys are written as "<prefix><path>".
func NewHistorySink(client *Client, prefix string) *HistorySink {
	if prefix == "" {
		prefix = "velocitydrive:device:"
	}
	return &HistorySink{client: client, prefix: prefix}
}

func (s *HistorySink) key(path string) string {
	return s.prefix + path
}

// RecordConnect writes the device's model/firmware/last-seen fields and
// publishes a status notification on the device's key channel. The
// status is "reconnected" rather than "connected" when the previous
// session for this path was also left connected (the disconnect that
// should have preceded this one was never observed, e.g. the service
// restarted or the USB link dropped uncleanly).
func (s *HistorySink) RecordConnect(path string, info device.Info) {
	key := s.key(path)
	status := "connected"
	if prev, err := s.client.GetString(key, "status"); err == nil && prev == "connected" {
		status = "reconnected"
	}

	_ = s.client.WriteString(key, "model", info.Model)
	_ = s.client.WriteString(key, "firmware", info.Firmware)
	_ = s.client.WriteString(key, "last_seen", info.LastSeen.Format(time.RFC3339))
	_ = s.client.WriteAndPublishString(key, "status", status)
}

// RecordDisconnect marks the device's status field disconnected and
// removes its last_seen field; model and firmware are kept.
func (s *HistorySink) RecordDisconnect(path string) {
	key := s.key(path)
	_ = s.client.WriteAndPublishString(key, "status", "disconnected")
	_, _ = s.client.HDel(key, "last_seen")
}

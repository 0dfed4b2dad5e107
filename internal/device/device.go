// Package device holds the identity a peer presents during a handshake.
package device

import "time"

// Identity describes one remote (or the local) device. DeviceID is the
// stable key everything else hangs off; only Name, Online and LastSeen
// change after creation.
type Identity struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
	Platform   string `json:"platform"`
	Browser    string `json:"browser"`
	IPAddress  string `json:"ipAddress"`
	Online     bool   `json:"online"`
	LastSeen   int64  `json:"lastSeen"`
}

func (i Identity) Valid() bool {
	return i.DeviceID != ""
}

// Touch marks the device online now.
func (i *Identity) Touch() {
	i.Online = true
	i.LastSeen = NowMillis()
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

package connectionmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

// HandshakeLen is the size of the dongle info header sent once by the
// server right after accept.
const HandshakeLen = 12

// Magic opens every rtl_tcp handshake.
var Magic = [4]byte{'R', 'T', 'L', '0'}

// DeviceInfo is what the server reports about its dongle.
type DeviceInfo struct {
	Tuner     tuner.Tuner `json:"tuner"`
	GainCount uint32      `json:"gainCount"`
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("{Tuner:%s GainCount:%d}", d.Tuner, d.GainCount)
}

// Capabilities returns the gain and bandwidth tables for the reported tuner.
func (d DeviceInfo) Capabilities() tuner.Capabilities {
	return tuner.Lookup(d.Tuner)
}

// ParseHandshake decodes a complete 12-byte header.
func ParseHandshake(b []byte) (DeviceInfo, error) {
	if len(b) < HandshakeLen {
		return DeviceInfo{}, fmt.Errorf("handshake too short: %d bytes", len(b))
	}
	if !bytes.Equal(b[:len(Magic)], Magic[:]) {
		return DeviceInfo{}, fmt.Errorf("%w: expected %q received %q", ErrProtocolMismatch, Magic[:], b[:len(Magic)])
	}
	return DeviceInfo{
		Tuner:     tuner.Tuner(binary.BigEndian.Uint32(b[4:8])),
		GainCount: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeHandshake builds the header a server sends for info.
func EncodeHandshake(info DeviceInfo) [HandshakeLen]byte {
	var b [HandshakeLen]byte
	copy(b[:4], Magic[:])
	binary.BigEndian.PutUint32(b[4:8], uint32(info.Tuner))
	binary.BigEndian.PutUint32(b[8:12], info.GainCount)
	return b
}

package connectionmgr

import (
	"encoding/binary"
	"fmt"
)

// Command is the first byte of a 5-byte rtl_tcp control message.
type Command uint8

// Command ids as defined by rtl_tcp.c.
const (
	CmdSetFrequency      Command = 0x01
	CmdSetSampleRate     Command = 0x02
	CmdSetGainMode       Command = 0x03
	CmdSetGain           Command = 0x04
	CmdSetFreqCorrection Command = 0x05
	CmdSetAGCMode        Command = 0x08
	CmdSetDirectSampling Command = 0x09
	CmdSetOffsetTuning   Command = 0x0A
	CmdSetTunerBandwidth Command = 0x0E
)

// CommandLen is the size of one control message on the wire.
const CommandLen = 5

// Commands lists every command this client sends.
var Commands = []Command{
	CmdSetFrequency, CmdSetSampleRate, CmdSetGainMode, CmdSetGain,
	CmdSetFreqCorrection, CmdSetAGCMode, CmdSetDirectSampling,
	CmdSetOffsetTuning, CmdSetTunerBandwidth,
}

func (c Command) String() string {
	switch c {
	case CmdSetFrequency:
		return "set_freq"
	case CmdSetSampleRate:
		return "set_sample_rate"
	case CmdSetGainMode:
		return "set_gain_mode"
	case CmdSetGain:
		return "set_gain"
	case CmdSetFreqCorrection:
		return "set_freq_correction"
	case CmdSetAGCMode:
		return "set_agc_mode"
	case CmdSetDirectSampling:
		return "set_direct_sampling"
	case CmdSetOffsetTuning:
		return "set_offset_tuning"
	case CmdSetTunerBandwidth:
		return "set_tuner_bandwidth"
	default:
		return fmt.Sprintf("cmd(0x%02x)", uint8(c))
	}
}

// EncodeCommand lays out [id][value big-endian].
func EncodeCommand(c Command, value uint32) [CommandLen]byte {
	var b [CommandLen]byte
	b[0] = byte(c)
	binary.BigEndian.PutUint32(b[1:], value)
	return b
}

// DecodeCommand parses one control message from the start of b.
func DecodeCommand(b []byte) (Command, uint32, error) {
	if len(b) < CommandLen {
		return 0, 0, fmt.Errorf("command frame too short: %d bytes", len(b))
	}
	return Command(b[0]), binary.BigEndian.Uint32(b[1:CommandLen]), nil
}

// Package axitypes holds the bus primitive enumerations and the signal
// naming contract shared by the master and slave bus-functional models.
package axitypes

import "strconv"

// Prot is the AxPROT protection qualifier carried on the address channels.
type Prot uint8

const (
	ProtUnprivSecureData      Prot = 0
	ProtPrivSecureData        Prot = 1
	ProtUnprivNonsecureData   Prot = 2
	ProtPrivNonsecureData     Prot = 3
	ProtUnprivSecureInstr     Prot = 4
	ProtPrivSecureInstr       Prot = 5
	ProtUnprivNonsecureInstr  Prot = 6
	ProtPrivNonsecureInstr    Prot = 7
)

// Resp is the response code carried on the read-data and write-response
// channels.
type Resp uint8

const (
	RespOkay    Resp = 0
	RespExOkay  Resp = 1
	RespSlvErr  Resp = 2
	RespDecErr  Resp = 3
)

func (r Resp) String() string {
	switch r {
	case RespOkay:
		return "okay"
	case RespExOkay:
		return "exokay"
	case RespSlvErr:
		return "slverr"
	case RespDecErr:
		return "decerr"
	default:
		return "unknown"
	}
}

// Burst is the AxBURST transfer type.
type Burst uint8

const (
	BurstFixed Burst = 0
	BurstIncr  Burst = 1
	BurstWrap  Burst = 2
)

func (b Burst) String() string {
	switch b {
	case BurstFixed:
		return "fixed"
	case BurstIncr:
		return "incr"
	case BurstWrap:
		return "wrap"
	default:
		return "unknown"
	}
}

// Signal names that every bound design instance must expose, per the
// naming contract: a clock, an active-low reset, and a lock-detect output.
const (
	SigClock  = "ext_ps_clk_in"
	SigReset  = "ext_reset_in"
	SigLocked = "locked"
)

// ChannelSuffixes enumerates the per-channel signal suffixes a bound port
// must provide. The "ID" suffix is probed for separately at bind time: its
// presence (not its zero value) decides whether multi-ID response
// accumulation is engaged for that port.
type ChannelSuffixes struct {
	AR, AW []string
	R, W   []string
	B      []string
}

// Suffixes is the canonical suffix list for a split-channel AXI4 port.
// "ID" is listed last in each group and looked up through a separate,
// presence-checked path (see bfm.BindPort) rather than being assumed
// to exist.
var Suffixes = ChannelSuffixes{
	AR: []string{"VALID", "READY", "ADDR", "PROT", "LEN", "SIZE", "BURST", "LOCK", "CACHE", "ID"},
	AW: []string{"VALID", "READY", "ADDR", "PROT", "LEN", "SIZE", "BURST", "LOCK", "CACHE", "ID"},
	R:  []string{"VALID", "READY", "DATA", "RESP", "LAST", "ID"},
	W:  []string{"VALID", "READY", "DATA", "STRB", "LAST"},
	B:  []string{"VALID", "READY", "RESP", "ID"},
}

// InterruptLine names the per-processing-element interrupt output:
// ext_intr_PE_<id>_0.
func InterruptLine(peID int) string {
	return "ext_intr_PE_" + strconv.Itoa(peID) + "_0"
}

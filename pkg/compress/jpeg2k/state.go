package jpeg2k

import (
	"strings"
)

// state is the decoder position bitmask
type state uint32

const (
	stateNone   state = 0x0000
	stateMHSOC  state = 0x0001 // expecting SOC
	stateMHSIZ  state = 0x0002 // expecting SIZ
	stateMH     state = 0x0004 // inside the main header
	stateTPHSOT state = 0x0008 // expecting a tile-part SOT
	stateTPH    state = 0x0010 // inside a tile-part header
	stateMT     state = 0x0020 // main header fully read
	stateNEOC   state = 0x0040 // stream ended before EOC
	stateDATA   state = 0x0080 // a tile awaits decoding
	stateEOC    state = 0x0100 // EOC read
	stateERR    state = 0x8000
)

var stateNames = []struct {
	s    state
	name string
}{
	{stateMHSOC, "MHSOC"},
	{stateMHSIZ, "MHSIZ"},
	{stateMH, "MH"},
	{stateTPHSOT, "TPHSOT"},
	{stateTPH, "TPH"},
	{stateMT, "MT"},
	{stateNEOC, "NEOC"},
	{stateDATA, "DATA"},
	{stateEOC, "EOC"},
	{stateERR, "ERR"},
}

func (s state) String() string {
	if s == stateNone {
		return "NONE"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

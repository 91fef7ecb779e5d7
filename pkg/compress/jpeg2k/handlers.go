package jpeg2k

import (
	"fmt"
)

// markerHandler binds a marker to the states it may appear in and the
// reader of its segment body
type markerHandler struct {
	states state
	read   func(d *Decoder, body []byte) error
}

// markerTable is the dispatch table of every segment the decoder knows.
// SOP is listed with no state so it is always rejected as a header segment.
var markerTable = map[Marker]markerHandler{
	MarkerSOT: {stateMH | stateTPHSOT, (*Decoder).readSOT},
	MarkerCOD: {stateMH | stateTPH, (*Decoder).readCOD},
	MarkerCOC: {stateMH | stateTPH, (*Decoder).readCOC},
	MarkerRGN: {stateMH | stateTPH, (*Decoder).readRGN},
	MarkerQCD: {stateMH | stateTPH, (*Decoder).readQCD},
	MarkerQCC: {stateMH | stateTPH, (*Decoder).readQCC},
	MarkerPOC: {stateMH | stateTPH, (*Decoder).readPOC},
	MarkerSIZ: {stateMHSIZ, (*Decoder).readSIZ},
	MarkerTLM: {stateMH, (*Decoder).readTLM},
	MarkerPLM: {stateMH, (*Decoder).readPLM},
	MarkerPLT: {stateTPH, (*Decoder).readPLT},
	MarkerPPM: {stateMH, (*Decoder).readPPM},
	MarkerPPT: {stateTPH, (*Decoder).readPPT},
	MarkerSOP: {0, nil},
	MarkerCRG: {stateMH, (*Decoder).readCRG},
	MarkerCOM: {stateMH | stateTPH, (*Decoder).readCOM},
	MarkerMCT: {stateMH | stateTPH, (*Decoder).readMCT},
	MarkerCBD: {stateMH, (*Decoder).readCBD},
	MarkerMCC: {stateMH | stateTPH, (*Decoder).readMCC},
	MarkerMCO: {stateMH | stateTPH, (*Decoder).readMCO},
}

// readUnknown skips an unrecognised segment by scanning two bytes at a time
// for the next known marker, which it returns. The skipped span is indexed
// as UNK.
func (d *Decoder) readUnknown(unknown Marker) (Marker, error) {
	start := d.s.Tell() - 2
	d.log.Warn("unknown marker", "marker", unknown, "pos", start)
	var found Marker
	for {
		v, err := d.readMarker()
		if err != nil {
			return 0, fmt.Errorf("%w: stream too short", ErrTruncated)
		}
		if v < 0xFF00 {
			continue
		}
		if v == MarkerEOC || (v == MarkerSOD && d.st&stateTPH != 0) {
			found = v
			break
		}
		h, ok := markerTable[v]
		if !ok {
			continue
		}
		if d.st&h.states == 0 {
			return 0, fmt.Errorf("%w: marker %s is not compliant with its position", ErrFormat, v)
		}
		found = v
		break
	}
	n := d.s.Tell() - 2 - start
	switch {
	case d.st&stateTPH != 0:
		// the skipped span belongs to the tile-part length
		d.sotLength -= n
		d.index.addTileMarker(d.currentTile, MarkerUNK, start, n)
	case found != MarkerSOT:
		d.index.addMainMarker(MarkerUNK, start, n)
	}
	return found, nil
}

package jpeg2k

import (
	"fmt"
	"strings"
)

// Marker is a codestream marker code
type Marker uint16

// JPEG 2000 Marker codes (ITU-T T.800 Table A.1, T.801 Table A.2)
const (
	// Delimiting markers
	MarkerSOC Marker = 0xFF4F // Start of codestream
	MarkerSOT Marker = 0xFF90 // Start of tile-part
	MarkerSOD Marker = 0xFF93 // Start of data
	MarkerEOC Marker = 0xFFD9 // End of codestream

	// Fixed information markers
	MarkerSIZ Marker = 0xFF51 // Image and tile size

	// Functional markers
	MarkerCOD Marker = 0xFF52 // Coding style default
	MarkerCOC Marker = 0xFF53 // Coding style component
	MarkerRGN Marker = 0xFF5E // Region of interest
	MarkerQCD Marker = 0xFF5C // Quantization default
	MarkerQCC Marker = 0xFF5D // Quantization component
	MarkerPOC Marker = 0xFF5F // Progression order change

	// Pointer markers
	MarkerTLM Marker = 0xFF55 // Tile-part lengths
	MarkerPLM Marker = 0xFF57 // Packet length, main header
	MarkerPLT Marker = 0xFF58 // Packet length, tile-part header
	MarkerPPM Marker = 0xFF60 // Packed packet headers, main header
	MarkerPPT Marker = 0xFF61 // Packed packet headers, tile-part header

	// In-bitstream markers
	MarkerSOP Marker = 0xFF91 // Start of packet
	MarkerEPH Marker = 0xFF92 // End of packet header

	// Informational markers
	MarkerCRG Marker = 0xFF63 // Component registration
	MarkerCOM Marker = 0xFF64 // Comment

	// Part-2 multiple component transformation
	MarkerMCT Marker = 0xFF74 // Multiple component transformation
	MarkerMCC Marker = 0xFF75 // Multiple component collection
	MarkerMCO Marker = 0xFF77 // Multiple component transform ordering
	MarkerCBD Marker = 0xFF78 // Component bit depth

	// MarkerUNK tags index entries for segments the codec does not know
	MarkerUNK Marker = 0

	// markerPadding with a two byte length ends some truncated tile-part
	// headers
	markerPadding Marker = 0x8080
)

var markerNames = map[Marker]string{
	MarkerSOC: "SOC",
	MarkerSOT: "SOT",
	MarkerSOD: "SOD",
	MarkerEOC: "EOC",
	MarkerSIZ: "SIZ",
	MarkerCOD: "COD",
	MarkerCOC: "COC",
	MarkerRGN: "RGN",
	MarkerQCD: "QCD",
	MarkerQCC: "QCC",
	MarkerPOC: "POC",
	MarkerTLM: "TLM",
	MarkerPLM: "PLM",
	MarkerPLT: "PLT",
	MarkerPPM: "PPM",
	MarkerPPT: "PPT",
	MarkerSOP: "SOP",
	MarkerEPH: "EPH",
	MarkerCRG: "CRG",
	MarkerCOM: "COM",
	MarkerMCT: "MCT",
	MarkerMCC: "MCC",
	MarkerMCO: "MCO",
	MarkerCBD: "CBD",
	MarkerUNK: "UNK",
}

// String returns the marker mnemonic
func (m Marker) String() string {
	if n, ok := markerNames[m]; ok {
		return n
	}
	return fmt.Sprintf("0x%04X", uint16(m))
}

// MarshalText writes the mnemonic so JSON indexes stay readable
func (m Marker) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ProgressionOrder defines the progression order for JPEG 2000 codestream
type ProgressionOrder byte

const (
	ProgressionLRCP ProgressionOrder = 0 // Layer-Resolution-Component-Position
	ProgressionRLCP ProgressionOrder = 1 // Resolution-Layer-Component-Position
	ProgressionRPCL ProgressionOrder = 2 // Resolution-Position-Component-Layer
	ProgressionPCRL ProgressionOrder = 3 // Position-Component-Resolution-Layer
	ProgressionCPRL ProgressionOrder = 4 // Component-Position-Resolution-Layer
)

var progressionNames = [...]string{"LRCP", "RLCP", "RPCL", "PCRL", "CPRL"}

// String returns the progression order name
func (p ProgressionOrder) String() string {
	if int(p) < len(progressionNames) {
		return progressionNames[p]
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler
func (p ProgressionOrder) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParseProgressionOrder parses a name such as "CPRL", case insensitive
func ParseProgressionOrder(s string) (ProgressionOrder, error) {
	for i, n := range progressionNames {
		if strings.EqualFold(s, n) {
			return ProgressionOrder(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown progression order %q", ErrParameter, s)
}

// CodingStyle flags (ITU-T T.800 Table A.13)
const (
	CodingStylePrecincts = 0x01 // Custom precinct sizes
	CodingStyleSOP       = 0x02 // SOP marker segments used
	CodingStyleEPH       = 0x04 // EPH marker segments used
)

// CodeBlockStyle flags (ITU-T T.800 Table A.15)
const (
	CodeBlockSelectiveBypass        = 0x01 // Selective arithmetic coding bypass
	CodeBlockResetContext           = 0x02 // Reset context on coding pass boundary
	CodeBlockTermOnPass             = 0x04 // Termination on each coding pass
	CodeBlockVerticalCausal         = 0x08 // Vertically causal context
	CodeBlockPredictableTermination = 0x10 // Predictable termination
	CodeBlockSegmentationSymbols    = 0x20 // Segmentation symbols used
)

// TransformType identifies the wavelet transform type
type TransformType byte

const (
	TransformIrreversible97 TransformType = 0 // 9/7 irreversible (lossy)
	TransformReversible53   TransformType = 1 // 5/3 reversible (lossless)
)

// QuantizationStyle is the low 5 bits of Sqcd/Sqcc (ITU-T T.800 Table A.28)
type QuantizationStyle byte

const (
	QuantizationNone            QuantizationStyle = 0 // No quantization
	QuantizationScalarDerived   QuantizationStyle = 1 // Scalar, derived from the LL band
	QuantizationScalarExpounded QuantizationStyle = 2 // Scalar, one step per band
)

// Profile is the Rsiz capability field
type Profile uint16

const (
	ProfileNone       Profile = 0x0000
	Profile0          Profile = 0x0001
	Profile1          Profile = 0x0002
	ProfilePart2      Profile = 0x8000
	ProfileCinema2K   Profile = 0x0003
	ProfileCinema4K   Profile = 0x0004
	ProfileCinemaS2K  Profile = 0x0005 // scalable 2K
	ProfileCinemaS4K  Profile = 0x0006 // scalable 4K
	ProfileCinemaLTS  Profile = 0x0007 // long term storage
	ProfileBCSingle   Profile = 0x0100
	ProfileBCMulti    Profile = 0x0200
	ProfileBCMultiR   Profile = 0x0300
	ProfileIMF2K      Profile = 0x0400
	ProfileIMF4K      Profile = 0x0500
	ProfileIMF8K      Profile = 0x0600
	ProfileIMF2KR     Profile = 0x0700
	ProfileIMF4KR     Profile = 0x0800
	ProfileIMF8KR     Profile = 0x0900
	ExtensionMCT      Profile = 0x0100 // Part-2 array based MCT
	ExtensionNone     Profile = 0x0000
	profilePart2MCT           = ProfilePart2 | ExtensionMCT
	profileBroadcastMax       = 0x030b
	profileIMFMax             = 0x099b
)

// IsCinema reports a 2K/4K digital cinema profile, scalable or not
func (p Profile) IsCinema() bool { return p >= ProfileCinema2K && p <= ProfileCinemaS4K }

// IsStorage reports the long term storage profile
func (p Profile) IsStorage() bool { return p == ProfileCinemaLTS }

// IsBroadcast reports one of the broadcast profiles
func (p Profile) IsBroadcast() bool { return p >= ProfileBCSingle && p <= profileBroadcastMax }

// IsIMF reports one of the IMF profiles
func (p Profile) IsIMF() bool { return p >= ProfileIMF2K && p <= profileIMFMax }

// IsPart2 reports the Part-2 capability bit
func (p Profile) IsPart2() bool { return p&ProfilePart2 != 0 }

// Digital cinema byte ceilings (ISO/IEC 15444-1 Amd. 1)
const (
	Cinema24CS   = 1302083 // codestream bytes per frame at 24 fps
	Cinema48CS   = 651041  // codestream bytes per frame at 48 fps
	Cinema24Comp = 1041666 // component bytes per frame at 24 fps
	Cinema48Comp = 520833  // component bytes per frame at 48 fps
)

// MCTElementType is the sample type of an MCT array
type MCTElementType byte

const (
	MCTInt16   MCTElementType = 0
	MCTInt32   MCTElementType = 1
	MCTFloat32 MCTElementType = 2
	MCTFloat64 MCTElementType = 3
)

var mctElementSizes = [...]int{2, 4, 4, 8}

// Size returns the bytes one element occupies
func (t MCTElementType) Size() int {
	return mctElementSizes[t&3]
}

// MCTArrayType is the role of an MCT array
type MCTArrayType byte

const (
	MCTDependency    MCTArrayType = 0
	MCTDecorrelation MCTArrayType = 1
	MCTOffset        MCTArrayType = 2
)

// Codestream limits
const (
	maxResolutions = 33
	maxBands       = 3*maxResolutions - 2
	maxPOCs        = 32
	maxTiles       = 65535
	maxComponents  = 16384
	maxPrecision   = 38
	maxTileParts   = 255
	sotSize        = 12 // SOT marker segment
	sodSize        = 2
)

package jpeg2k

// Builders for the main header packet length and the packed packet header
// segments, which only the decoder consumes

// appendPLM writes one PLM segment holding one Nplm group per tile-part
func appendPLM(dst []byte, zplm byte, groups [][]uint32) []byte {
	body := []byte{zplm}
	for _, g := range groups {
		var enc []byte
		for _, v := range g {
			enc = appendPacketLength(enc, v)
		}
		body = append(body, byte(len(enc)))
		body = append(body, enc...)
	}
	dst = appendMarker(dst, MarkerPLM, len(body)+2)
	return append(dst, body...)
}

// appendPPM writes one PPM segment; chunks are Nppm prefixed
func appendPPM(dst []byte, zppm byte, chunks [][]byte) []byte {
	body := []byte{zppm}
	for _, c := range chunks {
		body = appendUint(body, uint32(len(c)), 4)
		body = append(body, c...)
	}
	dst = appendMarker(dst, MarkerPPM, len(body)+2)
	return append(dst, body...)
}

// appendPPT writes one PPT segment
func appendPPT(dst []byte, zppt byte, data []byte) []byte {
	dst = appendMarker(dst, MarkerPPT, len(data)+3)
	dst = append(dst, zppt)
	return append(dst, data...)
}

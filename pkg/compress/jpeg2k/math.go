package jpeg2k

import "golang.org/x/exp/constraints"

// ceilDiv returns ceil(a/b) without overflowing the operand type
func ceilDiv[T constraints.Integer](a, b T) T {
	return T((int64(a) + int64(b) - 1) / int64(b))
}

// ceilDivPow2 returns ceil(a/2^b)
func ceilDivPow2[T constraints.Integer](a T, b uint32) T {
	return T((int64(a) + (int64(1) << b) - 1) >> b)
}

// floorDivPow2 returns floor(a/2^b)
func floorDivPow2[T constraints.Integer](a T, b uint32) T {
	return a >> b
}

// floorLog2 returns floor(log2(a)) and 0 for a <= 1
func floorLog2[T constraints.Integer](a T) uint32 {
	var l uint32
	for a > 1 {
		a >>= 1
		l++
	}
	return l
}

// addSat adds two uint32 values, saturating at the maximum
func addSat(a, b uint32) uint32 {
	if s := uint64(a) + uint64(b); s <= 0xFFFFFFFF {
		return uint32(s)
	}
	return 0xFFFFFFFF
}

package types

import (
	"errors"
	"fmt"
	"strings"
)

// BIP-173 alphabet.
const bech32Alphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

const bech32ChecksumLen = 6

// Bech32 errors.
var (
	ErrBech32Empty     = errors.New("bech32: empty input")
	ErrBech32MixedCase = errors.New("bech32: mixed case")
	ErrBech32Separator = errors.New("bech32: missing separator")
	ErrBech32Checksum  = errors.New("bech32: invalid checksum")
	ErrBech32Padding   = errors.New("bech32: non-zero padding")
)

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Value(c byte) (byte, bool) {
	i := strings.IndexByte(bech32Alphabet, c)
	if i < 0 {
		return 0, false
	}
	return byte(i), true
}

// Bech32Encode encodes data under the human-readable part hrp.
func Bech32Encode(hrp string, data []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("%w: hrp", ErrBech32Empty)
	}
	for i := 0; i < len(hrp); i++ {
		if hrp[i] < 33 || hrp[i] > 126 {
			return "", fmt.Errorf("bech32: invalid hrp character %q", hrp[i])
		}
	}
	hrp = strings.ToLower(hrp)

	groups, err := regroup(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	sum := checksum(hrp, groups)

	out := make([]byte, 0, len(hrp)+1+len(groups)+bech32ChecksumLen)
	out = append(out, hrp...)
	out = append(out, '1')
	for _, g := range append(groups, sum...) {
		out = append(out, bech32Alphabet[g])
	}
	return string(out), nil
}

// Bech32Decode splits s into its human-readable part and payload bytes.
func Bech32Decode(s string) (string, []byte, error) {
	if s == "" {
		return "", nil, ErrBech32Empty
	}
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return "", nil, ErrBech32MixedCase
	}

	sep := strings.LastIndexByte(lower, '1')
	if sep < 1 || sep+1+bech32ChecksumLen > len(lower) {
		return "", nil, ErrBech32Separator
	}
	hrp, rest := lower[:sep], lower[sep+1:]

	groups := make([]byte, len(rest))
	for i := 0; i < len(rest); i++ {
		v, ok := bech32Value(rest[i])
		if !ok {
			return "", nil, fmt.Errorf("bech32: invalid character %q", rest[i])
		}
		groups[i] = v
	}
	if polymod(append(expandHRP(hrp), groups...)) != 1 {
		return "", nil, ErrBech32Checksum
	}

	data, err := regroup(groups[:len(groups)-bech32ChecksumLen], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, data, nil
}

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range bech32Generator {
			if (top>>uint(i))&1 == 1 {
				chk ^= g
			}
		}
	}
	return chk
}

func expandHRP(hrp string) []byte {
	n := len(hrp)
	out := make([]byte, 2*n+1)
	for i := 0; i < n; i++ {
		out[i] = hrp[i] >> 5
		out[n+1+i] = hrp[i] & 31
	}
	return out
}

func checksum(hrp string, groups []byte) []byte {
	values := append(expandHRP(hrp), groups...)
	values = append(values, make([]byte, bech32ChecksumLen)...)
	mod := polymod(values) ^ 1
	sum := make([]byte, bech32ChecksumLen)
	for i := range sum {
		sum[i] = byte(mod>>uint(5*(bech32ChecksumLen-1-i))) & 31
	}
	return sum
}

// regroup converts a sequence of from-bit groups into to-bit groups.
func regroup(in []byte, from, to uint, pad bool) ([]byte, error) {
	var (
		acc  uint32
		bits uint
		out  = make([]byte, 0, len(in)*int(from)/int(to)+1)
		mask = uint32(1)<<to - 1
	)
	for _, b := range in {
		if uint32(b)>>from != 0 {
			return nil, fmt.Errorf("bech32: value %d exceeds %d bits", b, from)
		}
		acc = acc<<from | uint32(b)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&mask))
		}
	}
	switch {
	case pad && bits > 0:
		out = append(out, byte(acc<<(to-bits)&mask))
	case !pad && (bits >= from || acc<<(to-bits)&mask != 0):
		return nil, ErrBech32Padding
	}
	return out, nil
}

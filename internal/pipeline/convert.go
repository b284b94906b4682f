package pipeline

import "fmt"

// Converter is the sample format transform applied to each delivered chunk.
// It is chosen once per session.
type Converter int

const (
	// PassThrough hands the raw unsigned 8-bit I/Q bytes to the consumer.
	PassThrough Converter = iota
	// U8ToS16 widens each byte to a signed 16-bit sample centred on zero.
	U8ToS16
)

func (c Converter) String() string {
	switch c {
	case PassThrough:
		return "u8"
	case U8ToS16:
		return "s16"
	default:
		return fmt.Sprintf("converter(%d)", int(c))
	}
}

// ParseConverter accepts "u8"/"raw" and "s16"/"int16".
func ParseConverter(s string) (Converter, error) {
	switch s {
	case "u8", "raw", "":
		return PassThrough, nil
	case "s16", "int16":
		return U8ToS16, nil
	default:
		return 0, fmt.Errorf("unsupported sample format %q", s)
	}
}

// BytesPerSample is the size of one converted I or Q value.
func (c Converter) BytesPerSample() int {
	if c == U8ToS16 {
		return 2
	}
	return 1
}

// ConvertU8 writes int16(b)-128 for every byte of src into dst and returns
// the filled part of dst. dst must be at least len(src) long.
func ConvertU8(dst []int16, src []byte) []int16 {
	dst = dst[:len(src)]
	for i, b := range src {
		dst[i] = int16(b) - 128
	}
	return dst
}

package engine

import (
	iface "KnifeDetServer/interface"

	"github.com/pkg/errors"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const UNAVAILABLE = 0x0005

// ChannelMajorToRows converts a YOLO head output of shape (1, channels, n)
// into n rows of channels values each.
func ChannelMajorToRows(data []float32, channels, n int) (iface.RawOutput, error) {
	if channels <= 0 || n <= 0 {
		return iface.RawOutput{}, errors.Wrapf(iface.ErrMalformedOutput, "output shape (1, %d, %d)", channels, n)
	}
	if len(data) != channels*n {
		return iface.RawOutput{}, errors.Wrapf(iface.ErrMalformedOutput, "output has %d values, shape (1, %d, %d) needs %d", len(data), channels, n, channels*n)
	}
	rows := make([]float32, len(data))
	for c := 0; c < channels; c++ {
		src := data[c*n : (c+1)*n]
		for i, v := range src {
			rows[i*channels+c] = v
		}
	}
	return iface.RawOutput{Rows: n, Cols: channels, Data: rows}, nil
}

// OutputShape reads (channels, n) from a (1, channels, n) or (channels, n) shape.
func OutputShape(dims []int64) (int, int, error) {
	switch len(dims) {
	case 3:
		if dims[0] != 1 {
			return 0, 0, errors.Wrapf(iface.ErrMalformedOutput, "batch size %d not supported", dims[0])
		}
		return int(dims[1]), int(dims[2]), nil
	case 2:
		return int(dims[0]), int(dims[1]), nil
	default:
		return 0, 0, errors.Wrapf(iface.ErrMalformedOutput, "output rank %d not supported", len(dims))
	}
}

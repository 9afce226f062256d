package deface

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"deface/internal/nifti"
)

// ErrShapeMismatch reports a mask that cannot be applied to a volume.
var ErrShapeMismatch = errors.New("mask shape does not match volume")

// Strategy names how a mask is combined with a volume.
type Strategy int

const (
	// StrategyDirect multiplies voxel by voxel.
	StrategyDirect Strategy = iota + 1
	// StrategyBroadcast repeats a 3D mask along the volume's last axis.
	StrategyBroadcast
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// PlanMask decides how a mask of maskShape combines with a volume of
// volumeShape. Trailing singleton axes are ignored when comparing shapes, so
// (X,Y,Z,1) masks directly against (X,Y,Z). A volume with one more axis than
// the mask, whose leading axes equal the mask shape, is masked per volume
// along that last axis.
func PlanMask(volumeShape, maskShape []int) (Strategy, error) {
	vol := collapseTrailing(volumeShape)
	mask := collapseTrailing(maskShape)
	switch {
	case slices.Equal(vol, mask):
		return StrategyDirect, nil
	case len(volumeShape) == len(mask)+1 && slices.Equal(volumeShape[:len(mask)], mask):
		return StrategyBroadcast, nil
	default:
		return 0, fmt.Errorf("%w: volume %v, mask %v", ErrShapeMismatch, volumeShape, maskShape)
	}
}

// ApplyMask multiplies vol by mask. The result carries vol's header and shape.
func ApplyMask(vol, mask *nifti.Volume) (*nifti.Volume, Strategy, error) {
	strategy, err := PlanMask(vol.Shape, mask.Shape)
	if err != nil {
		return nil, 0, err
	}
	if len(vol.Data) != vol.Len() || len(mask.Data) != mask.Len() {
		return nil, 0, fmt.Errorf("%w: data length does not match shape", ErrShapeMismatch)
	}

	out := make([]float64, len(vol.Data))
	switch strategy {
	case StrategyDirect:
		floats.MulTo(out, vol.Data, mask.Data)
	case StrategyBroadcast:
		n := len(mask.Data)
		for start := 0; start < len(out); start += n {
			floats.MulTo(out[start:start+n], vol.Data[start:start+n], mask.Data)
		}
	}
	masked, err := vol.WithData(out)
	if err != nil {
		return nil, 0, err
	}
	return masked, strategy, nil
}

func collapseTrailing(shape []int) []int {
	end := len(shape)
	for end > 1 && shape[end-1] == 1 {
		end--
	}
	return shape[:end]
}

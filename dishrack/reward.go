package dishrack

import (
	"fmt"
	"math"
	"strings"

	"github.com/zeu5/dishrack-rl/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// Variant selects the reward model of an environment
type Variant int

const (
	// Dense penalises distance, control effort, orientation error and collisions
	Dense Variant = iota
	// DenseNoCollision is Dense without the collision term
	DenseNoCollision
	// Sparse only rewards a plate resting inside the success box
	Sparse
)

func (v Variant) String() string {
	switch v {
	case Dense:
		return "dense"
	case DenseNoCollision:
		return "dense-no-collision"
	case Sparse:
		return "sparse"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant reads a variant name as printed by String
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "dense":
		return Dense, nil
	case "dense-no-collision", "nonrespondable":
		return DenseNoCollision, nil
	case "sparse":
		return Sparse, nil
	}
	return 0, fmt.Errorf("unknown reward variant %q", s)
}

// reward constants, tuned empirically
const (
	rewardScale       = 0.01
	orientationWeight = 0.04
	collisionWeight   = 0.1
	// radius of the plate, floor of the orientation penalty denominator
	minRadius = 0.11

	successBonus    = 0.1
	maxDisplacement = 0.015 // 1.5cm
	maxRotation     = 0.1   // ~5.7 deg
)

// maxDist scales the success bonus by closeness
var maxDist = r3.Norm(r3.Vec{X: maxDisplacement, Y: maxDisplacement, Z: maxDisplacement})

// Measurement holds the poses read before the simulator advances
type Measurement struct {
	// Distance between plate and target
	Distance float64
	// OrientationDiff is the sum of |plate orientation| about the first two axes, relative to the target
	OrientationDiff float64
	Collision       bool

	// Displacement is the per-axis |target position| relative to the plate
	Displacement r3.Vec
	// Orientation is the per-axis |plate orientation| relative to the target
	Orientation [2]float64
}

// DenseReward is the shaped reward. The collision term is only part of the sum
// (and of the diagnostics) when withCollision is set.
func DenseReward(m Measurement, action []float64, withCollision bool) (float64, types.Info) {
	rewDist := -m.Distance
	ctrl := meanAbs(action)
	rewCtrl := -(ctrl * ctrl)
	rewOrientation := -m.OrientationDiff / math.Max(m.Distance, minRadius)

	info := types.Info{
		"rew_dist":        rewDist,
		"rew_ctrl":        rewCtrl,
		"rew_orientation": rewOrientation,
	}
	if !withCollision {
		return rewardScale * (rewDist + rewCtrl + orientationWeight*rewOrientation), info
	}

	rewCollision := 0.0
	if m.Collision {
		rewCollision = -1
	}
	info["rew_collision"] = rewCollision
	return rewardScale * (rewDist + rewCtrl + orientationWeight*rewOrientation + collisionWeight*rewCollision), info
}

// SparseReward pays a bonus scaled by closeness only when every displacement axis
// is within maxDisplacement and every orientation axis within maxRotation.
// Both thresholds are inclusive.
func SparseReward(m Measurement) (float64, types.Info) {
	rewSuccess := 0.0
	if m.Orientation[0] <= maxRotation && m.Orientation[1] <= maxRotation &&
		m.Displacement.X <= maxDisplacement && m.Displacement.Y <= maxDisplacement && m.Displacement.Z <= maxDisplacement {
		rewSuccess = successBonus
	}
	dist := r3.Norm(m.Displacement)
	return rewSuccess * (1 - dist/maxDist), types.Info{"rew_success": rewSuccess}
}

// Reward dispatches to the reward model of the variant
func (v Variant) Reward(m Measurement, action []float64) (float64, types.Info) {
	switch v {
	case DenseNoCollision:
		return DenseReward(m, action, false)
	case Sparse:
		return SparseReward(m)
	default:
		return DenseReward(m, action, true)
	}
}

func meanAbs(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v)
	}
	return sum / float64(len(values))
}

func absVec(v r3.Vec) r3.Vec {
	return r3.Vec{X: math.Abs(v.X), Y: math.Abs(v.Y), Z: math.Abs(v.Z)}
}

package simserver

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// pose is a rigid transform: world = rot * local + pos
type pose struct {
	pos r3.Vec
	rot *mat.Dense
}

var identityPose = pose{pos: r3.Vec{}, rot: eulerToMatrix(r3.Vec{})}

// eulerToMatrix builds R = Rx(alpha) * Ry(beta) * Rz(gamma)
func eulerToMatrix(e r3.Vec) *mat.Dense {
	ca, sa := math.Cos(e.X), math.Sin(e.X)
	cb, sb := math.Cos(e.Y), math.Sin(e.Y)
	cg, sg := math.Cos(e.Z), math.Sin(e.Z)
	return mat.NewDense(3, 3, []float64{
		cb * cg, -cb * sg, sb,
		sa*sb*cg + ca*sg, -sa*sb*sg + ca*cg, -sa * cb,
		-ca*sb*cg + sa*sg, ca*sb*sg + sa*cg, ca * cb,
	})
}

// matrixToEuler inverts eulerToMatrix
func matrixToEuler(r mat.Matrix) r3.Vec {
	sb := math.Max(-1, math.Min(1, r.At(0, 2)))
	return r3.Vec{
		X: math.Atan2(-r.At(1, 2), r.At(2, 2)),
		Y: math.Asin(sb),
		Z: math.Atan2(-r.At(0, 1), r.At(0, 0)),
	}
}

func mulVec(m mat.Matrix, v r3.Vec) r3.Vec {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vec{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// compose returns the world pose of a frame given locally in parent
func (p pose) compose(local pose) pose {
	var rot mat.Dense
	rot.Mul(p.rot, local.rot)
	return pose{
		pos: r3.Add(p.pos, mulVec(p.rot, local.pos)),
		rot: &rot,
	}
}

// relative expresses world pose w in the frame of p
func (p pose) relative(w pose) pose {
	var rot mat.Dense
	rot.Mul(p.rot.T(), w.rot)
	return pose{
		pos: mulVec(p.rot.T(), r3.Sub(w.pos, p.pos)),
		rot: &rot,
	}
}

package vrep

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Handle refers to a named object in the simulator's scene graph.
// Handles are resolved once and stay valid for the lifetime of the scene.
type Handle int32

// WorldFrame is the reference handle for absolute coordinates
const WorldFrame Handle = -1

// Return codes reported by the remote API
const (
	ReturnOK            = 0
	ReturnNoValue       = 1
	ReturnTimeout       = 2
	ReturnIllegalOpmode = 4
	ReturnRemoteError   = 8
	ReturnSplitProgress = 16
	ReturnLocalError    = 32
	ReturnInitError     = 64
)

// DefaultBasePort is the port of the simulator serving rank 0
const DefaultBasePort = 19997

// PortForRank returns the port of the simulator instance dedicated to a worker
func PortForRank(basePort, rank int) int {
	return basePort + rank
}

// SimulatorError is returned whenever a remote call reports a non-success code.
// Transport failures are reported with ReturnLocalError and the underlying error.
type SimulatorError struct {
	Op   string
	Code int
	Err  error
}

func (e *SimulatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: return code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: return code %d", e.Op, e.Code)
}

func (e *SimulatorError) Unwrap() error {
	return e.Err
}

// Client is the blocking remote API of the simulator.
// Every call is a full round trip; there are no retries or internal timeouts.
type Client interface {
	GetObjectHandle(ctx context.Context, name string) (Handle, error)
	GetCollisionHandle(ctx context.Context, name string) (Handle, error)

	GetObjectPosition(ctx context.Context, h, ref Handle) (r3.Vec, error)
	GetObjectOrientation(ctx context.Context, h, ref Handle) (r3.Vec, error)
	SetObjectPosition(ctx context.Context, h, ref Handle, pos r3.Vec) error
	SetObjectOrientation(ctx context.Context, h, ref Handle, euler r3.Vec) error
	ReadCollision(ctx context.Context, h Handle) (bool, error)

	GetJointPosition(ctx context.Context, h Handle) (float64, error)
	SetJointPosition(ctx context.Context, h Handle, pos float64) error
	SetJointTargetVelocity(ctx context.Context, h Handle, vel float64) error

	LoadScene(ctx context.Context, path string, headless bool) error
	Synchronous(ctx context.Context, enable bool) error
	StartSimulation(ctx context.Context) error
	StopSimulation(ctx context.Context) error
	SynchronousTrigger(ctx context.Context) error

	Close() error
}

// Request is the body of a bridge call
type Request struct {
	Name   string    `json:"name,omitempty"`
	Handle Handle    `json:"handle"`
	Ref    Handle    `json:"ref"`
	Values []float64 `json:"values,omitempty"`
	Value  float64   `json:"value"`
	Flag   bool      `json:"flag"`
}

// Response is the body returned by the bridge
type Response struct {
	Code   int       `json:"code"`
	Handle Handle    `json:"handle"`
	Values []float64 `json:"values,omitempty"`
	Value  float64   `json:"value"`
	Flag   bool      `json:"flag"`
}

// Bridge function names
const (
	FuncGetObjectHandle        = "getObjectHandle"
	FuncGetCollisionHandle     = "getCollisionHandle"
	FuncGetObjectPosition      = "getObjectPosition"
	FuncGetObjectOrientation   = "getObjectOrientation"
	FuncSetObjectPosition      = "setObjectPosition"
	FuncSetObjectOrientation   = "setObjectOrientation"
	FuncReadCollision          = "readCollision"
	FuncGetJointPosition       = "getJointPosition"
	FuncSetJointPosition       = "setJointPosition"
	FuncSetJointTargetVelocity = "setJointTargetVelocity"
	FuncLoadScene              = "loadScene"
	FuncSynchronous            = "synchronous"
	FuncStartSimulation        = "startSimulation"
	FuncStopSimulation         = "stopSimulation"
	FuncSynchronousTrigger     = "synchronousTrigger"
)

// VecToSlice converts a vector to the wire representation
func VecToSlice(v r3.Vec) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

// SliceToVec converts the wire representation back to a vector
func SliceToVec(values []float64) (r3.Vec, bool) {
	if len(values) != 3 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: values[0], Y: values[1], Z: values[2]}, true
}

// Package dishrack implements the dish rack placing task: the Sawyer arm holds a
// plate that has to be put into a slot of a randomly placed rack.
package dishrack

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/zeu5/dishrack-rl/arm"
	"github.com/zeu5/dishrack-rl/types"
	"github.com/zeu5/dishrack-rl/vrep"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Arm is the joint level part of the environment
type Arm interface {
	Dim() int
	JointObservation(context.Context) ([]float64, error)
	SetTargetVelocities(context.Context, []float64) error
	Tick(context.Context) error
	Restart(context.Context) error
	Close() error
}

// PoseSource reads the live poses the reward is computed from
type PoseSource interface {
	Position(ctx context.Context, subject, ref vrep.Handle) (r3.Vec, error)
	Orientation(ctx context.Context, subject, ref vrep.Handle) (r3.Vec, error)
	ReadCollision(ctx context.Context, h vrep.Handle) (bool, error)
}

// Scene adds handle resolution and pose writes to a PoseSource
type Scene interface {
	PoseSource
	ObjectHandle(ctx context.Context, name string) (vrep.Handle, error)
	CollisionHandle(ctx context.Context, name string) (vrep.Handle, error)
	SetPosition(ctx context.Context, subject, ref vrep.Handle, pos r3.Vec) error
	SetOrientation(ctx context.Context, subject, ref vrep.Handle, euler r3.Vec) error
}

// Handles of the scene objects used by the task
type Handles struct {
	Plate          vrep.Handle
	Rack           vrep.Handle
	OrientationRef vrep.Handle
	Collision      vrep.Handle
	Target         vrep.Handle
}

type state int

const (
	uninitialized state = iota
	ready
	stepping
	done
)

var (
	ErrNotReset    = errors.New("step called before reset")
	ErrEpisodeDone = errors.New("step called after the episode ended, reset first")
)

// Env is one dish rack environment. It is not safe for concurrent use.
type Env struct {
	config  Config
	arm     Arm
	scene   Scene
	handles Handles
	space   types.Box

	rackX   distuv.Uniform
	rackY   distuv.Uniform
	rackRot distuv.Uniform

	state            state
	timestep         int
	rackPos          r3.Vec
	rackOrientation  r3.Vec
	targetPos        r3.Vec
	targetVelocities []float64
}

var _ types.Env = &Env{}

// Dial connects to the simulator serving config.Rank, loads the scene and builds the environment
func Dial(ctx context.Context, config Config) (*Env, error) {
	config = config.withDefaults()
	client := vrep.Dial(config.Host, config.BasePort, config.Rank)
	sawyer, err := arm.NewSawyer(ctx, client, arm.Config{
		ScenePath: config.ScenePath,
		Headless:  config.Headless,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("rank %d: %w", config.Rank, err)
	}
	env, err := New(ctx, config, sawyer, vrep.NewScene(client))
	if err != nil {
		sawyer.Close()
		return nil, fmt.Errorf("rank %d: %w", config.Rank, err)
	}
	return env, nil
}

// New resolves the scene handles and reads the initial rack and target poses.
// Any failed remote call aborts construction.
func New(ctx context.Context, config Config, a Arm, scene Scene) (*Env, error) {
	config = config.withDefaults()
	e := &Env{
		config: config,
		arm:    a,
		scene:  scene,
		space:  ObservationSpace(a.Dim(), config.Bounds),
	}

	var err error
	if e.handles.Plate, err = scene.ObjectHandle(ctx, config.Names.Plate); err != nil {
		return nil, err
	}
	if e.handles.Rack, err = scene.ObjectHandle(ctx, config.Names.Rack); err != nil {
		return nil, err
	}
	if e.rackPos, err = scene.Position(ctx, e.handles.Rack, vrep.WorldFrame); err != nil {
		return nil, err
	}
	if e.handles.OrientationRef, err = scene.ObjectHandle(ctx, config.Names.OrientationRef); err != nil {
		return nil, err
	}
	if e.rackOrientation, err = scene.Orientation(ctx, e.handles.Rack, e.handles.OrientationRef); err != nil {
		return nil, err
	}
	if e.handles.Collision, err = scene.CollisionHandle(ctx, config.Names.Collision); err != nil {
		return nil, err
	}
	if e.handles.Target, err = scene.ObjectHandle(ctx, config.Names.Target); err != nil {
		return nil, err
	}
	if e.targetPos, err = scene.Position(ctx, e.handles.Target, vrep.WorldFrame); err != nil {
		return nil, err
	}

	src := rand.NewSource(config.Seed + uint64(config.Rank))
	e.rackX = distuv.Uniform{Min: config.Bounds.X.Min, Max: config.Bounds.X.Max, Src: src}
	e.rackY = distuv.Uniform{Min: config.Bounds.Y.Min, Max: config.Bounds.Y.Max, Src: src}
	e.rackRot = distuv.Uniform{Min: config.Bounds.Rotation.Min, Max: config.Bounds.Rotation.Max, Src: src}
	return e, nil
}

func (e *Env) ObservationSpace() types.Box {
	return e.space
}

func (e *Env) ActionDim() int {
	return e.arm.Dim()
}

// Timestep is the number of steps taken in the current episode
func (e *Env) Timestep() int {
	return e.timestep
}

// EpisodeLength is the number of steps after which an episode is done
func (e *Env) EpisodeLength() int {
	return e.config.EpisodeLength
}

// Rack returns the rack position and its orientation relative to the reference frame
func (e *Env) Rack() (r3.Vec, r3.Vec) {
	return e.rackPos, e.rackOrientation
}

func (e *Env) Handles() Handles {
	return e.handles
}

// Reset restarts the simulation, places the rack at a random pose inside the
// configured bounds and returns the first observation of the episode.
func (e *Env) Reset(ctx context.Context) ([]float64, error) {
	if err := e.arm.Restart(ctx); err != nil {
		return nil, err
	}
	e.rackPos.X = e.rackX.Rand()
	e.rackPos.Y = e.rackY.Rand()
	e.rackOrientation.X = e.rackRot.Rand()
	if err := e.scene.SetPosition(ctx, e.handles.Rack, vrep.WorldFrame, e.rackPos); err != nil {
		return nil, err
	}
	if err := e.scene.SetOrientation(ctx, e.handles.Rack, e.handles.OrientationRef, e.rackOrientation); err != nil {
		return nil, err
	}
	e.timestep = 0
	e.state = ready

	return e.observe(ctx)
}

// Step applies the joint target velocities and advances the simulation by one tick.
// The reward is computed from the poses read before the tick.
func (e *Env) Step(ctx context.Context, action []float64) ([]float64, float64, bool, types.Info, error) {
	switch e.state {
	case uninitialized:
		return nil, 0, false, nil, ErrNotReset
	case done:
		return nil, 0, false, nil, ErrEpisodeDone
	}
	e.targetVelocities = append(e.targetVelocities[:0], action...)

	m, err := e.measure(ctx)
	if err != nil {
		return nil, 0, false, nil, err
	}

	if err := e.arm.SetTargetVelocities(ctx, e.targetVelocities); err != nil {
		return nil, 0, false, nil, err
	}
	if err := e.arm.Tick(ctx); err != nil {
		return nil, 0, false, nil, err
	}

	obs, err := e.observe(ctx)
	if err != nil {
		return nil, 0, false, nil, err
	}
	e.timestep += 1
	isDone := e.timestep == e.config.EpisodeLength
	if isDone {
		e.state = done
	} else {
		e.state = stepping
	}

	rew, info := e.config.Variant.Reward(m, e.targetVelocities)
	return obs, rew, isDone, info, nil
}

// Close stops the simulation and releases the connection
func (e *Env) Close() error {
	return e.arm.Close()
}

// observe concatenates joint observation, target x and y, and rack rotation
func (e *Env) observe(ctx context.Context) ([]float64, error) {
	joints, err := e.arm.JointObservation(ctx)
	if err != nil {
		return nil, err
	}
	e.targetPos, err = e.scene.Position(ctx, e.handles.Target, vrep.WorldFrame)
	if err != nil {
		return nil, err
	}
	obs := make([]float64, 0, len(joints)+3)
	obs = append(obs, joints...)
	obs = append(obs, e.targetPos.X, e.targetPos.Y, e.rackOrientation.X)
	return obs, nil
}

// plateOrientation is the plate orientation relative to the target, first two axes
func (e *Env) plateOrientation(ctx context.Context) ([2]float64, error) {
	o, err := e.scene.Orientation(ctx, e.handles.Plate, e.handles.Target)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{math.Abs(o.X), math.Abs(o.Y)}, nil
}

// measure reads the poses the active reward model needs
func (e *Env) measure(ctx context.Context) (Measurement, error) {
	m := Measurement{}
	if e.config.Variant == Sparse {
		disp, err := e.scene.Position(ctx, e.handles.Target, e.handles.Plate)
		if err != nil {
			return m, err
		}
		m.Displacement = absVec(disp)
		if m.Orientation, err = e.plateOrientation(ctx); err != nil {
			return m, err
		}
		m.OrientationDiff = m.Orientation[0] + m.Orientation[1]
		return m, nil
	}

	offset, err := e.scene.Position(ctx, e.handles.Plate, e.handles.Target)
	if err != nil {
		return m, err
	}
	m.Distance = r3.Norm(offset)
	if m.Orientation, err = e.plateOrientation(ctx); err != nil {
		return m, err
	}
	m.OrientationDiff = m.Orientation[0] + m.Orientation[1]

	if e.config.Variant == Dense {
		if m.Collision, err = e.scene.ReadCollision(ctx, e.handles.Collision); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Package arm drives the Sawyer arm inside a simulated scene: joint
// observations, joint target velocities and synchronous stepping.
package arm

import (
	"context"
	"fmt"

	"github.com/zeu5/dishrack-rl/vrep"
)

// NumJoints of the Sawyer arm
const NumJoints = 7

// DefaultJoints are the scene names of the arm joints
func DefaultJoints() []string {
	joints := make([]string, NumJoints)
	for i := range joints {
		joints[i] = fmt.Sprintf("Sawyer_joint%d", i+1)
	}
	return joints
}

// Config of the arm and the scene it lives in
type Config struct {
	ScenePath string
	Headless  bool
	Joints    []string
}

// Sawyer is the arm of one environment. It owns its client exclusively.
type Sawyer struct {
	client vrep.Client
	joints []vrep.Handle
}

// NewSawyer loads the scene, switches the simulator to synchronous stepping,
// resolves the joints and starts the simulation. Any failed call aborts construction.
func NewSawyer(ctx context.Context, client vrep.Client, config Config) (*Sawyer, error) {
	if len(config.Joints) == 0 {
		config.Joints = DefaultJoints()
	}
	if err := client.LoadScene(ctx, config.ScenePath, config.Headless); err != nil {
		return nil, fmt.Errorf("loading scene %s: %w", config.ScenePath, err)
	}
	if err := client.Synchronous(ctx, true); err != nil {
		return nil, fmt.Errorf("enabling synchronous mode: %w", err)
	}
	joints := make([]vrep.Handle, len(config.Joints))
	for i, name := range config.Joints {
		h, err := client.GetObjectHandle(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolving joint %q: %w", name, err)
		}
		joints[i] = h
	}
	if err := client.StartSimulation(ctx); err != nil {
		return nil, fmt.Errorf("starting simulation: %w", err)
	}
	return &Sawyer{
		client: client,
		joints: joints,
	}, nil
}

// Dim is the length of the joint observation and of the velocity action
func (s *Sawyer) Dim() int {
	return len(s.joints)
}

// JointObservation reads the current joint positions
func (s *Sawyer) JointObservation(ctx context.Context) ([]float64, error) {
	obs := make([]float64, len(s.joints))
	for i, h := range s.joints {
		pos, err := s.client.GetJointPosition(ctx, h)
		if err != nil {
			return nil, err
		}
		obs[i] = pos
	}
	return obs, nil
}

// SetTargetVelocities writes one target velocity per joint, values are sent as is
func (s *Sawyer) SetTargetVelocities(ctx context.Context, velocities []float64) error {
	if len(velocities) != len(s.joints) {
		return fmt.Errorf("expected %d joint velocities, got %d", len(s.joints), len(velocities))
	}
	for i, h := range s.joints {
		if err := s.client.SetJointTargetVelocity(ctx, h, velocities[i]); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances the simulation by one step
func (s *Sawyer) Tick(ctx context.Context) error {
	return s.client.SynchronousTrigger(ctx)
}

// Restart stops and starts the simulation, bringing the scene back to its initial state
func (s *Sawyer) Restart(ctx context.Context) error {
	if err := s.client.StopSimulation(ctx); err != nil {
		return err
	}
	if err := s.client.Synchronous(ctx, true); err != nil {
		return err
	}
	return s.client.StartSimulation(ctx)
}

// Close stops the simulation and releases the client
func (s *Sawyer) Close() error {
	err := s.client.StopSimulation(context.Background())
	if cErr := s.client.Close(); err == nil {
		err = cErr
	}
	return err
}

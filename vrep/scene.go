package vrep

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Scene exposes object lookup and pose access on top of a Client.
// Nothing is cached, every read reflects the live simulator state.
type Scene struct {
	client Client
}

func NewScene(client Client) *Scene {
	return &Scene{client: client}
}

// ObjectHandle resolves a named scene object
func (s *Scene) ObjectHandle(ctx context.Context, name string) (Handle, error) {
	h, err := s.client.GetObjectHandle(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("resolving object %q: %w", name, err)
	}
	return h, nil
}

// CollisionHandle resolves a named collision sensor
func (s *Scene) CollisionHandle(ctx context.Context, name string) (Handle, error) {
	h, err := s.client.GetCollisionHandle(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("resolving collision %q: %w", name, err)
	}
	return h, nil
}

// Position of subject expressed in the frame of ref (WorldFrame for absolute)
func (s *Scene) Position(ctx context.Context, subject, ref Handle) (r3.Vec, error) {
	return s.client.GetObjectPosition(ctx, subject, ref)
}

// Orientation of subject as Euler angles relative to ref
func (s *Scene) Orientation(ctx context.Context, subject, ref Handle) (r3.Vec, error) {
	return s.client.GetObjectOrientation(ctx, subject, ref)
}

func (s *Scene) SetPosition(ctx context.Context, subject, ref Handle, pos r3.Vec) error {
	return s.client.SetObjectPosition(ctx, subject, ref, pos)
}

func (s *Scene) SetOrientation(ctx context.Context, subject, ref Handle, euler r3.Vec) error {
	return s.client.SetObjectOrientation(ctx, subject, ref, euler)
}

// ReadCollision reports whether the collision sensor currently fires
func (s *Scene) ReadCollision(ctx context.Context, h Handle) (bool, error) {
	return s.client.ReadCollision(ctx, h)
}

package simserver

import (
	"math"
	"testing"

	"github.com/zeu5/dishrack-rl/vrep"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-9

func near(a, b r3.Vec) bool {
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol && math.Abs(a.Z-b.Z) < tol
}

func loadedScene(t *testing.T) *Scene {
	s := NewScene()
	if err := s.Load(DishRackScene()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func mustHandle(t *testing.T, s *Scene, name string) vrep.Handle {
	h, code := s.ObjectHandle(name)
	if code != vrep.ReturnOK {
		t.Fatalf("handle %s: code %d", name, code)
	}
	return h
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []r3.Vec{
		{},
		{X: 0.2},
		{Y: -0.4},
		{Z: 1.2},
		{X: 0.1, Y: 0.3, Z: -0.7},
	}
	for _, e := range cases {
		got := matrixToEuler(eulerToMatrix(e))
		if !near(got, e) {
			t.Errorf("euler round trip: got %v, want %v", got, e)
		}
	}
}

func TestChildFollowsParent(t *testing.T) {
	s := loadedScene(t)
	rack := mustHandle(t, s, "DishRack")
	target := mustHandle(t, s, "Target")

	if code := s.SetPosition(rack, vrep.WorldFrame, r3.Vec{X: 0.1, Y: -0.55, Z: 0}); code != vrep.ReturnOK {
		t.Fatalf("set position: code %d", code)
	}
	pos, _ := s.Position(target, vrep.WorldFrame)
	if !near(pos, r3.Vec{X: 0.1, Y: -0.55, Z: 0.08}) {
		t.Errorf("target world position: got %v", pos)
	}
	rel, _ := s.Position(target, rack)
	if !near(rel, r3.Vec{Z: 0.08}) {
		t.Errorf("target relative to rack: got %v", rel)
	}
}

func TestRelativeOrientation(t *testing.T) {
	s := loadedScene(t)
	rack := mustHandle(t, s, "DishRack")
	ref := mustHandle(t, s, "DefaultOrientation")

	want := r3.Vec{X: 0.2}
	if code := s.SetOrientation(rack, ref, want); code != vrep.ReturnOK {
		t.Fatalf("set orientation: code %d", code)
	}
	got, _ := s.Orientation(rack, ref)
	if !near(got, want) {
		t.Errorf("orientation: got %v, want %v", got, want)
	}
}

func TestTriggerRequiresRunningSynchronous(t *testing.T) {
	s := loadedScene(t)
	if code := s.Trigger(); code != vrep.ReturnIllegalOpmode {
		t.Errorf("expected illegal opmode before start, got %d", code)
	}
	s.SetSynchronous(true)
	s.Start()
	if code := s.Trigger(); code != vrep.ReturnOK {
		t.Errorf("expected trigger to succeed, got %d", code)
	}
	if s.Ticks() != 1 {
		t.Errorf("expected one tick, got %d", s.Ticks())
	}
}

func TestDriversAndStopRestores(t *testing.T) {
	s := loadedScene(t)
	s.SetSynchronous(true)
	s.Start()

	plate := mustHandle(t, s, "Plate_center")
	j1 := mustHandle(t, s, "Sawyer_joint1")
	before, _ := s.Position(plate, vrep.WorldFrame)

	s.SetJointTargetVelocity(j1, 1.0)
	s.Trigger()

	after, _ := s.Position(plate, vrep.WorldFrame)
	if math.Abs(after.X-before.X-0.05) > tol {
		t.Errorf("plate should move 0.05 along x, moved %v", after.X-before.X)
	}
	jp, _ := s.JointPosition(j1)
	if math.Abs(jp-0.05) > tol {
		t.Errorf("joint position: got %v", jp)
	}

	s.Stop()
	restored, _ := s.Position(plate, vrep.WorldFrame)
	if !near(restored, before) {
		t.Errorf("stop should restore plate position, got %v", restored)
	}
}

func TestCollision(t *testing.T) {
	s := loadedScene(t)
	col, code := s.CollisionHandle("Collision")
	if code != vrep.ReturnOK {
		t.Fatalf("collision handle: code %d", code)
	}
	if hit, _ := s.ReadCollision(col); hit {
		t.Errorf("no collision expected in the initial scene")
	}
	plate := mustHandle(t, s, "Plate_center")
	rack := mustHandle(t, s, "DishRack")
	s.SetPosition(plate, rack, r3.Vec{Z: 0.01})
	if hit, _ := s.ReadCollision(col); !hit {
		t.Errorf("collision expected when the plate touches the rack")
	}
}

func TestUnknownObjects(t *testing.T) {
	s := loadedScene(t)
	if _, code := s.ObjectHandle("Nope"); code != vrep.ReturnRemoteError {
		t.Errorf("expected remote error, got %d", code)
	}
	if _, code := s.Position(999, vrep.WorldFrame); code != vrep.ReturnRemoteError {
		t.Errorf("expected remote error, got %d", code)
	}
}

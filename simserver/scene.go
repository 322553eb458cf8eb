package simserver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/zeu5/dishrack-rl/vrep"
	"gonum.org/v1/gonum/spatial/r3"
)

// ObjectSpec describes a scene object in a scene file.
// Pose is local to Parent (world when empty).
type ObjectSpec struct {
	Name        string     `json:"name"`
	Parent      string     `json:"parent,omitempty"`
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
	// Drivers name the joints whose velocity moves the object along x, y and z
	Drivers [3]string `json:"drivers,omitempty"`
	Joint   bool      `json:"joint,omitempty"`
}

// CollisionSpec fires when the two objects are closer than Radius
type CollisionSpec struct {
	Name   string  `json:"name"`
	A      string  `json:"a"`
	B      string  `json:"b"`
	Radius float64 `json:"radius"`
}

// SceneFile is the JSON description of a kinematic scene
type SceneFile struct {
	TimeStep   float64         `json:"time_step"`
	Objects    []ObjectSpec    `json:"objects"`
	Collisions []CollisionSpec `json:"collisions"`
}

// LoadSceneFile reads a JSON scene description
func LoadSceneFile(path string) (SceneFile, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return SceneFile{}, err
	}
	out := SceneFile{}
	if err := json.Unmarshal(bs, &out); err != nil {
		return SceneFile{}, fmt.Errorf("parsing scene %s: %w", path, err)
	}
	return out, nil
}

// DishRackScene is a kinematic stand-in for the dish rack scene: a seven joint arm
// whose first three joints carry the plate along the world axes, a rack with a
// target slot and a plate/rack collision sensor.
func DishRackScene() SceneFile {
	objects := make([]ObjectSpec, 0)
	for i := 1; i <= 7; i++ {
		objects = append(objects, ObjectSpec{Name: fmt.Sprintf("Sawyer_joint%d", i), Joint: true})
	}
	objects = append(objects,
		ObjectSpec{
			Name:     "Plate_center",
			Position: [3]float64{0.05, -0.3, 0.2},
			Drivers:  [3]string{"Sawyer_joint1", "Sawyer_joint2", "Sawyer_joint3"},
		},
		ObjectSpec{Name: "DefaultOrientation"},
		ObjectSpec{Name: "DishRack", Position: [3]float64{0.05, -0.5, 0}},
		ObjectSpec{Name: "Target", Parent: "DishRack", Position: [3]float64{0, 0, 0.08}},
	)
	return SceneFile{
		TimeStep: 0.05,
		Objects:  objects,
		Collisions: []CollisionSpec{
			{Name: "Collision", A: "Plate_center", B: "DishRack", Radius: 0.05},
		},
	}
}

type object struct {
	spec     ObjectSpec
	parent   vrep.Handle
	local    pose
	jointPos float64
	jointVel float64
}

type collision struct {
	a, b   vrep.Handle
	radius float64
}

// Scene is an in-memory kinematic scene graph. Stopping the simulation
// restores the state the scene was loaded with.
type Scene struct {
	lock *sync.Mutex

	file        SceneFile
	loaded      bool
	running     bool
	synchronous bool
	ticks       int

	objects    map[vrep.Handle]*object
	names      map[string]vrep.Handle
	collisions map[vrep.Handle]collision
	colNames   map[string]vrep.Handle
}

func NewScene() *Scene {
	return &Scene{
		lock:       new(sync.Mutex),
		objects:    make(map[vrep.Handle]*object),
		names:      make(map[string]vrep.Handle),
		collisions: make(map[vrep.Handle]collision),
		colNames:   make(map[string]vrep.Handle),
	}
}

// Load replaces the scene contents
func (s *Scene) Load(file SceneFile) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.load(file)
}

func (s *Scene) load(file SceneFile) error {
	objects := make(map[vrep.Handle]*object)
	names := make(map[string]vrep.Handle)
	for i, spec := range file.Objects {
		h := vrep.Handle(i + 1)
		if _, ok := names[spec.Name]; ok {
			return fmt.Errorf("duplicate object %q", spec.Name)
		}
		names[spec.Name] = h
		objects[h] = &object{
			spec:   spec,
			parent: vrep.WorldFrame,
			local: pose{
				pos: r3.Vec{X: spec.Position[0], Y: spec.Position[1], Z: spec.Position[2]},
				rot: eulerToMatrix(r3.Vec{X: spec.Orientation[0], Y: spec.Orientation[1], Z: spec.Orientation[2]}),
			},
		}
	}
	for _, o := range objects {
		if o.spec.Parent == "" {
			continue
		}
		p, ok := names[o.spec.Parent]
		if !ok {
			return fmt.Errorf("object %q: unknown parent %q", o.spec.Name, o.spec.Parent)
		}
		o.parent = p
	}
	collisions := make(map[vrep.Handle]collision)
	colNames := make(map[string]vrep.Handle)
	for i, c := range file.Collisions {
		a, okA := names[c.A]
		b, okB := names[c.B]
		if !okA || !okB {
			return fmt.Errorf("collision %q: unknown objects", c.Name)
		}
		h := vrep.Handle(i + 1)
		colNames[c.Name] = h
		collisions[h] = collision{a: a, b: b, radius: c.Radius}
	}
	if file.TimeStep <= 0 {
		file.TimeStep = 0.05
	}

	s.file = file
	s.loaded = true
	s.running = false
	s.ticks = 0
	s.objects = objects
	s.names = names
	s.collisions = collisions
	s.colNames = colNames
	return nil
}

// Ticks returns the number of simulation steps since the last start
func (s *Scene) Ticks() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ticks
}

// Running reports whether the simulation is started
func (s *Scene) Running() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running
}

func (s *Scene) worldPose(h vrep.Handle) pose {
	if h == vrep.WorldFrame {
		return identityPose
	}
	o := s.objects[h]
	return s.worldPose(o.parent).compose(o.local)
}

func (s *Scene) lookup(h vrep.Handle) (*object, int) {
	if !s.loaded {
		return nil, vrep.ReturnRemoteError
	}
	o, ok := s.objects[h]
	if !ok {
		return nil, vrep.ReturnRemoteError
	}
	return o, vrep.ReturnOK
}

func (s *Scene) validRef(ref vrep.Handle) bool {
	if ref == vrep.WorldFrame {
		return true
	}
	_, ok := s.objects[ref]
	return ok
}

func (s *Scene) ObjectHandle(name string) (vrep.Handle, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	h, ok := s.names[name]
	if !ok {
		return 0, vrep.ReturnRemoteError
	}
	return h, vrep.ReturnOK
}

func (s *Scene) CollisionHandle(name string) (vrep.Handle, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	h, ok := s.colNames[name]
	if !ok {
		return 0, vrep.ReturnRemoteError
	}
	return h, vrep.ReturnOK
}

func (s *Scene) Position(h, ref vrep.Handle) (r3.Vec, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, code := s.lookup(h); code != vrep.ReturnOK || !s.validRef(ref) {
		return r3.Vec{}, vrep.ReturnRemoteError
	}
	return s.worldPose(ref).relative(s.worldPose(h)).pos, vrep.ReturnOK
}

func (s *Scene) Orientation(h, ref vrep.Handle) (r3.Vec, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, code := s.lookup(h); code != vrep.ReturnOK || !s.validRef(ref) {
		return r3.Vec{}, vrep.ReturnRemoteError
	}
	return matrixToEuler(s.worldPose(ref).relative(s.worldPose(h)).rot), vrep.ReturnOK
}

func (s *Scene) SetPosition(h, ref vrep.Handle, pos r3.Vec) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, code := s.lookup(h)
	if code != vrep.ReturnOK || !s.validRef(ref) {
		return vrep.ReturnRemoteError
	}
	world := s.worldPose(ref).compose(pose{pos: pos, rot: identityPose.rot})
	o.local.pos = s.worldPose(o.parent).relative(world).pos
	return vrep.ReturnOK
}

func (s *Scene) SetOrientation(h, ref vrep.Handle, euler r3.Vec) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, code := s.lookup(h)
	if code != vrep.ReturnOK || !s.validRef(ref) {
		return vrep.ReturnRemoteError
	}
	world := s.worldPose(ref).compose(pose{rot: eulerToMatrix(euler)})
	o.local.rot = s.worldPose(o.parent).relative(world).rot
	return vrep.ReturnOK
}

func (s *Scene) ReadCollision(h vrep.Handle) (bool, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.collisions[h]
	if !ok {
		return false, vrep.ReturnRemoteError
	}
	d := r3.Norm(r3.Sub(s.worldPose(c.a).pos, s.worldPose(c.b).pos))
	return d < c.radius, vrep.ReturnOK
}

func (s *Scene) joint(h vrep.Handle) (*object, int) {
	o, code := s.lookup(h)
	if code != vrep.ReturnOK || !o.spec.Joint {
		return nil, vrep.ReturnRemoteError
	}
	return o, vrep.ReturnOK
}

func (s *Scene) JointPosition(h vrep.Handle) (float64, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, code := s.joint(h)
	if code != vrep.ReturnOK {
		return 0, code
	}
	return o.jointPos, vrep.ReturnOK
}

func (s *Scene) SetJointPosition(h vrep.Handle, v float64) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, code := s.joint(h)
	if code != vrep.ReturnOK {
		return code
	}
	o.jointPos = v
	return vrep.ReturnOK
}

func (s *Scene) SetJointTargetVelocity(h vrep.Handle, v float64) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, code := s.joint(h)
	if code != vrep.ReturnOK {
		return code
	}
	o.jointVel = v
	return vrep.ReturnOK
}

func (s *Scene) SetSynchronous(enable bool) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.synchronous = enable
	return vrep.ReturnOK
}

func (s *Scene) Start() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.loaded {
		return vrep.ReturnRemoteError
	}
	s.running = true
	s.ticks = 0
	return vrep.ReturnOK
}

// Stop halts the simulation and restores the loaded state
func (s *Scene) Stop() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.loaded {
		return vrep.ReturnRemoteError
	}
	if !s.running {
		return vrep.ReturnOK
	}
	if err := s.load(s.file); err != nil {
		return vrep.ReturnRemoteError
	}
	return vrep.ReturnOK
}

// Trigger advances the simulation by one time step
func (s *Scene) Trigger() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.running || !s.synchronous {
		return vrep.ReturnIllegalOpmode
	}
	dt := s.file.TimeStep
	for _, o := range s.objects {
		if !o.spec.Joint {
			continue
		}
		o.jointPos += o.jointVel * dt
	}
	for _, o := range s.objects {
		delta := [3]float64{}
		moved := false
		for axis, driver := range o.spec.Drivers {
			if driver == "" {
				continue
			}
			j, ok := s.objects[s.names[driver]]
			if !ok {
				continue
			}
			delta[axis] = j.jointVel * dt
			moved = true
		}
		if moved {
			o.local.pos = r3.Add(o.local.pos, r3.Vec{X: delta[0], Y: delta[1], Z: delta[2]})
		}
	}
	s.ticks++
	return vrep.ReturnOK
}

package dishrack

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/zeu5/dishrack-rl/simserver"
	"github.com/zeu5/dishrack-rl/vrep"
	"gonum.org/v1/gonum/spatial/r3"
)

type fakeArm struct {
	joints     []float64
	velocities []float64
	ticks      int
	restarts   int
	log        *[]string
}

func (a *fakeArm) Dim() int { return len(a.joints) }

func (a *fakeArm) JointObservation(context.Context) ([]float64, error) {
	out := make([]float64, len(a.joints))
	copy(out, a.joints)
	return out, nil
}

func (a *fakeArm) SetTargetVelocities(_ context.Context, v []float64) error {
	a.velocities = append([]float64{}, v...)
	return nil
}

func (a *fakeArm) Tick(context.Context) error {
	a.ticks++
	*a.log = append(*a.log, "tick")
	return nil
}

func (a *fakeArm) Restart(context.Context) error {
	a.restarts++
	return nil
}

func (a *fakeArm) Close() error { return nil }

type frame struct{ subject, ref vrep.Handle }

type fakeScene struct {
	handles      map[string]vrep.Handle
	positions    map[frame]r3.Vec
	orientations map[frame]r3.Vec
	collision    bool
	fail         string
	log          *[]string
}

func newFakes() (*fakeArm, *fakeScene) {
	log := make([]string, 0)
	a := &fakeArm{joints: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, log: &log}
	s := &fakeScene{
		handles: map[string]vrep.Handle{
			"Plate_center":       1,
			"DishRack":           2,
			"DefaultOrientation": 3,
			"Target":             4,
			"Collision":          10,
		},
		positions: map[frame]r3.Vec{
			{4, vrep.WorldFrame}: {X: 0.03, Y: -0.52, Z: 0.08},
			{1, 4}:               {X: 0, Y: 0.3, Z: 0.4},
			{4, 1}:               {X: 0, Y: -0.3, Z: -0.4},
		},
		orientations: map[frame]r3.Vec{
			{1, 4}: {X: 0.1, Y: -0.2, Z: 0.5},
		},
		log: &log,
	}
	return a, s
}

func (s *fakeScene) ObjectHandle(_ context.Context, name string) (vrep.Handle, error) {
	if name == s.fail {
		return 0, &vrep.SimulatorError{Op: vrep.FuncGetObjectHandle, Code: vrep.ReturnRemoteError}
	}
	return s.handles[name], nil
}

func (s *fakeScene) CollisionHandle(_ context.Context, name string) (vrep.Handle, error) {
	if name == s.fail {
		return 0, &vrep.SimulatorError{Op: vrep.FuncGetCollisionHandle, Code: vrep.ReturnRemoteError}
	}
	return s.handles[name], nil
}

func (s *fakeScene) Position(_ context.Context, subject, ref vrep.Handle) (r3.Vec, error) {
	*s.log = append(*s.log, "position")
	return s.positions[frame{subject, ref}], nil
}

func (s *fakeScene) Orientation(_ context.Context, subject, ref vrep.Handle) (r3.Vec, error) {
	*s.log = append(*s.log, "orientation")
	return s.orientations[frame{subject, ref}], nil
}

func (s *fakeScene) ReadCollision(context.Context, vrep.Handle) (bool, error) {
	*s.log = append(*s.log, "collision")
	return s.collision, nil
}

func (s *fakeScene) SetPosition(_ context.Context, subject, ref vrep.Handle, pos r3.Vec) error {
	s.positions[frame{subject, ref}] = pos
	return nil
}

func (s *fakeScene) SetOrientation(_ context.Context, subject, ref vrep.Handle, euler r3.Vec) error {
	s.orientations[frame{subject, ref}] = euler
	return nil
}

func newTestEnv(t *testing.T, config Config) (*Env, *fakeArm, *fakeScene) {
	a, s := newFakes()
	env, err := New(context.Background(), config, a, s)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	return env, a, s
}

func TestResetPlacesRackWithinBounds(t *testing.T) {
	bounds := DefaultRackBounds()
	for seed := uint64(0); seed < 50; seed++ {
		env, a, s := newTestEnv(t, Config{Seed: seed})
		for i := 0; i < 5; i++ {
			if _, err := env.Reset(context.Background()); err != nil {
				t.Fatalf("reset: %v", err)
			}
			pos, rot := env.Rack()
			if !bounds.Contains(pos.X, pos.Y, rot.X) {
				t.Errorf("seed %d: rack pose out of bounds: %v %v", seed, pos, rot)
			}
			if env.Timestep() != 0 {
				t.Errorf("seed %d: timestep not reset", seed)
			}
			if s.positions[frame{2, vrep.WorldFrame}] != pos {
				t.Errorf("seed %d: rack position not committed", seed)
			}
			if s.orientations[frame{2, 3}] != rot {
				t.Errorf("seed %d: rack orientation not committed", seed)
			}
		}
		if a.restarts != 5 {
			t.Errorf("expected 5 restarts, got %d", a.restarts)
		}
	}
}

func TestSameSeedSameRack(t *testing.T) {
	first, _, _ := newTestEnv(t, Config{Seed: 7, Rank: 2})
	second, _, _ := newTestEnv(t, Config{Seed: 7, Rank: 2})
	other, _, _ := newTestEnv(t, Config{Seed: 7, Rank: 3})
	first.Reset(context.Background())
	second.Reset(context.Background())
	other.Reset(context.Background())

	p1, _ := first.Rack()
	p2, _ := second.Rack()
	p3, _ := other.Rack()
	if p1 != p2 {
		t.Errorf("same seed and rank should give the same rack: %v != %v", p1, p2)
	}
	if p1 == p3 {
		t.Errorf("different ranks should not share the rack pose")
	}
}

func TestDoneExactlyAtEpisodeLength(t *testing.T) {
	ctx := context.Background()
	env, _, _ := newTestEnv(t, Config{EpisodeLength: 5})
	if _, err := env.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	action := make([]float64, 7)
	for i := 1; i <= 5; i++ {
		_, _, done, _, err := env.Step(ctx, action)
		if err != nil {
			t.Fatal(err)
		}
		if done != (i == 5) {
			t.Errorf("step %d: done = %v", i, done)
		}
		if env.Timestep() != i {
			t.Errorf("step %d: timestep %d", i, env.Timestep())
		}
	}
	if _, _, _, _, err := env.Step(ctx, action); !errors.Is(err, ErrEpisodeDone) {
		t.Errorf("expected ErrEpisodeDone, got %v", err)
	}
	if _, err := env.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, done, _, err := env.Step(ctx, action); err != nil || done {
		t.Errorf("a new episode should start after reset: done %v err %v", done, err)
	}
}

func TestDefaultEpisodeLength(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	if env.EpisodeLength() != 64 {
		t.Errorf("expected default episode length 64, got %d", env.EpisodeLength())
	}
}

func TestStepBeforeReset(t *testing.T) {
	env, _, _ := newTestEnv(t, Config{})
	if _, _, _, _, err := env.Step(context.Background(), make([]float64, 7)); !errors.Is(err, ErrNotReset) {
		t.Errorf("expected ErrNotReset, got %v", err)
	}
}

func TestObservationOrder(t *testing.T) {
	ctx := context.Background()
	env, _, s := newTestEnv(t, Config{})
	for i := 0; i < 3; i++ {
		var obs []float64
		var err error
		if i == 0 {
			obs, err = env.Reset(ctx)
		} else {
			obs, _, _, _, err = env.Step(ctx, make([]float64, 7))
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(obs) != env.ObservationSpace().Dim() {
			t.Fatalf("observation length %d, space %d", len(obs), env.ObservationSpace().Dim())
		}
		_, rot := env.Rack()
		target := s.positions[frame{4, vrep.WorldFrame}]
		want := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, target.X, target.Y, rot.X}
		for j := range want {
			if obs[j] != want[j] {
				t.Errorf("obs[%d] = %v, want %v", j, obs[j], want[j])
			}
		}
	}
}

func TestStepReadsPosesBeforeTick(t *testing.T) {
	ctx := context.Background()
	env, a, s := newTestEnv(t, Config{Variant: Dense})
	env.Reset(ctx)
	*s.log = (*s.log)[:0]

	action := []float64{1, 1, 1, 1, 1, 1, 1}
	_, rew, _, info, err := env.Step(ctx, action)
	if err != nil {
		t.Fatal(err)
	}
	log := *s.log
	if len(log) < 4 || log[0] != "position" || log[1] != "orientation" || log[2] != "collision" || log[3] != "tick" {
		t.Errorf("unexpected call order: %v", log)
	}
	if a.velocities[0] != 1 {
		t.Errorf("action not forwarded to the arm")
	}

	dist := r3.Norm(r3.Vec{Y: 0.3, Z: 0.4})
	want, _ := DenseReward(Measurement{Distance: dist, OrientationDiff: 0.3}, action, true)
	if !almostEqual(rew, want) {
		t.Errorf("reward %v, want %v", rew, want)
	}
	if !almostEqual(info["rew_dist"], -0.5) {
		t.Errorf("rew_dist %v", info["rew_dist"])
	}
}

func TestVariantsReadOnlyWhatTheyNeed(t *testing.T) {
	ctx := context.Background()
	for _, v := range []Variant{DenseNoCollision, Sparse} {
		env, _, s := newTestEnv(t, Config{Variant: v})
		env.Reset(ctx)
		*s.log = (*s.log)[:0]
		_, _, _, info, err := env.Step(ctx, make([]float64, 7))
		if err != nil {
			t.Fatal(err)
		}
		for _, call := range *s.log {
			if call == "collision" {
				t.Errorf("%s should not read the collision sensor", v)
			}
		}
		if _, ok := info["rew_collision"]; ok {
			t.Errorf("%s should not report a collision term", v)
		}
	}
}

func TestConstructionFailsOnResolveError(t *testing.T) {
	for _, name := range []string{"Plate_center", "DishRack", "DefaultOrientation", "Collision", "Target"} {
		a, s := newFakes()
		s.fail = name
		_, err := New(context.Background(), Config{}, a, s)
		var simErr *vrep.SimulatorError
		if !errors.As(err, &simErr) {
			t.Errorf("%s: expected a simulator error, got %v", name, err)
		}
	}
}

func TestDialAgainstSceneServer(t *testing.T) {
	ctx := context.Background()
	srv := simserver.New("", simserver.NewScene(), simserver.FixedScene(simserver.DishRackScene()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(u.Port())
	env, err := Dial(ctx, Config{Seed: 3, Host: u.Hostname(), BasePort: port, EpisodeLength: 4, Variant: Dense})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer env.Close()

	obs, err := env.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != env.ObservationSpace().Dim() {
		t.Fatalf("observation length %d", len(obs))
	}
	pos, rot := env.Rack()
	if math.Abs(obs[7]-pos.X) > 1e-9 || math.Abs(obs[8]-pos.Y) > 0.02 {
		t.Errorf("target should sit on the rack: obs %v rack %v", obs[7:9], pos)
	}
	if obs[9] != rot.X {
		t.Errorf("last component should be the rack rotation: %v != %v", obs[9], rot.X)
	}

	action := []float64{0.1, 0, 0, 0, 0, 0, 0}
	for i := 1; i <= 4; i++ {
		obs, rew, done, info, err := env.Step(ctx, action)
		if err != nil {
			t.Fatal(err)
		}
		if done != (i == 4) {
			t.Errorf("step %d: done %v", i, done)
		}
		if rew >= 0 {
			t.Errorf("dense reward should be negative away from the target, got %v", rew)
		}
		if len(info) != 4 {
			t.Errorf("expected four reward terms, got %v", info)
		}
		if len(obs) != env.ObservationSpace().Dim() {
			t.Errorf("observation length %d", len(obs))
		}
	}
}

package dishrack

import (
	"os"
	"path"

	"github.com/zeu5/dishrack-rl/types"
	"github.com/zeu5/dishrack-rl/vrep"
	"gonum.org/v1/gonum/spatial/r1"
)

// DefaultEpisodeLength is the number of steps of an episode
const DefaultEpisodeLength = 64

// jointBound limits each joint observation component
const jointBound = 3.0

// RackBounds is the box the rack pose is sampled from on every reset
type RackBounds struct {
	X        r1.Interval
	Y        r1.Interval
	Rotation r1.Interval
}

// DefaultRackBounds returns the rack placement box (metres, radians)
func DefaultRackBounds() RackBounds {
	return RackBounds{
		X:        r1.Interval{Min: -0.05, Max: 0.15},
		Y:        r1.Interval{Min: -0.6, Max: -0.45},
		Rotation: r1.Interval{Min: -0.25, Max: 0.25},
	}
}

// Contains checks a sampled rack pose against the box
func (b RackBounds) Contains(x, y, rotation float64) bool {
	in := func(i r1.Interval, v float64) bool {
		return v >= i.Min && v <= i.Max
	}
	return in(b.X, x) && in(b.Y, y) && in(b.Rotation, rotation)
}

// SceneNames are the names of the scene objects the environment resolves
type SceneNames struct {
	Plate          string
	Rack           string
	OrientationRef string
	Collision      string
	Target         string
}

func DefaultSceneNames() SceneNames {
	return SceneNames{
		Plate:          "Plate_center",
		Rack:           "DishRack",
		OrientationRef: "DefaultOrientation",
		Collision:      "Collision",
		Target:         "Target",
	}
}

// Config of a dish rack environment
type Config struct {
	Seed     uint64
	Rank     int
	Headless bool

	EpisodeLength int
	Variant       Variant
	ScenePath     string
	Bounds        RackBounds
	Names         SceneNames

	// simulator connection, the port is BasePort + Rank
	Host     string
	BasePort int
}

// DefaultScenePath is dish_rack.ttt in the working directory
func DefaultScenePath() string {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return path.Join(dir, "dish_rack.ttt")
}

// DefaultConfig returns the configuration of the collision-penalised environment
func DefaultConfig() Config {
	return Config{
		EpisodeLength: DefaultEpisodeLength,
		Variant:       Dense,
		ScenePath:     DefaultScenePath(),
		Bounds:        DefaultRackBounds(),
		Names:         DefaultSceneNames(),
		Host:          "127.0.0.1",
		BasePort:      vrep.DefaultBasePort,
		Headless:      true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EpisodeLength <= 0 {
		c.EpisodeLength = d.EpisodeLength
	}
	if c.ScenePath == "" {
		c.ScenePath = d.ScenePath
	}
	if c.Bounds == (RackBounds{}) {
		c.Bounds = d.Bounds
	}
	if c.Names == (SceneNames{}) {
		c.Names = d.Names
	}
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.BasePort == 0 {
		c.BasePort = d.BasePort
	}
	return c
}

// ObservationSpace is the joint box followed by the rack placement box.
// The rack components bound the target xy and the rack rotation.
func ObservationSpace(joints int, bounds RackBounds) types.Box {
	low := make([]float64, 0, joints+3)
	high := make([]float64, 0, joints+3)
	for i := 0; i < joints; i++ {
		low = append(low, -jointBound)
		high = append(high, jointBound)
	}
	low = append(low, bounds.X.Min, bounds.Y.Min, bounds.Rotation.Min)
	high = append(high, bounds.X.Max, bounds.Y.Max, bounds.Rotation.Max)
	return types.Box{Low: low, High: high}
}

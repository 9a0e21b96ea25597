package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/terrain"
	"gopkg.in/yaml.v3"
)

//go:embed default_scenario.yaml
var defaultScenarioYAML []byte

// Scene kinds.
const (
	KindSurvey    = "survey"
	KindWaypoints = "waypoints"
	KindPlanar    = "planar"
)

// Scenario describes one scene: what the decision service is asked to do,
// where the drone starts and the terrain it flies over.
type Scenario struct {
	Version      string         `yaml:"version" json:"version"`
	ScenarioID   string         `yaml:"scenario_id" json:"scenario_id"`
	LastUpdated  string         `yaml:"lastUpdated" json:"lastUpdated"`
	Mode         string         `yaml:"mode" json:"mode"`
	Kind         string         `yaml:"kind,omitempty" json:"kind,omitempty"`
	Initial      Point          `yaml:"initial" json:"initial"`
	Start        *Point         `yaml:"start,omitempty" json:"start,omitempty"`
	Targets      []Point        `yaml:"targets,omitempty" json:"targets,omitempty"`
	Survey       *SurveyPattern `yaml:"survey,omitempty" json:"survey,omitempty"`
	ViewBoundary *float64       `yaml:"view_boundary,omitempty" json:"view_boundary,omitempty"`
	Terrain      TerrainConfig  `yaml:"terrain" json:"terrain"`
}

// Point is a YAML position.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Vec converts p.
func (p Point) Vec() geom.Vec3 {
	return geom.Vec3{p.X, p.Y, p.Z}
}

// SurveyPattern generates a lawnmower target list: for each column i,
// (StartX + i*StepX, Altitude, NearZ) then (StartX + i*StepX, Altitude, FarZ).
type SurveyPattern struct {
	Columns  int     `yaml:"columns" json:"columns"`
	StartX   float64 `yaml:"start_x" json:"start_x"`
	StepX    float64 `yaml:"step_x" json:"step_x"`
	Altitude float64 `yaml:"altitude" json:"altitude"`
	NearZ    float64 `yaml:"near_z" json:"near_z"`
	FarZ     float64 `yaml:"far_z" json:"far_z"`
}

// Targets expands the pattern.
func (p SurveyPattern) Targets() []geom.Vec3 {
	out := make([]geom.Vec3, 0, 2*p.Columns)
	for i := 0; i < p.Columns; i++ {
		x := p.StartX + float64(i)*p.StepX
		out = append(out, geom.Vec3{x, p.Altitude, p.NearZ}, geom.Vec3{x, p.Altitude, p.FarZ})
	}
	return out
}

// TerrainConfig lists the static shapes of a scene.
type TerrainConfig struct {
	Boxes  []BoxShape  `yaml:"boxes,omitempty" json:"boxes,omitempty"`
	Quads  []QuadShape `yaml:"quads,omitempty" json:"quads,omitempty"`
	Meshes []MeshShape `yaml:"meshes,omitempty" json:"meshes,omitempty"`
}

// BoxShape is an axis-aligned box given by centre and half extents.
type BoxShape struct {
	Center Point `yaml:"center" json:"center"`
	Half   Point `yaml:"half" json:"half"`
}

// QuadShape is a flat rectangle; exactly one of W, H, D is zero.
type QuadShape struct {
	Center Point   `yaml:"center" json:"center"`
	W      float64 `yaml:"w" json:"w"`
	H      float64 `yaml:"h" json:"h"`
	D      float64 `yaml:"d" json:"d"`
}

// MeshShape is an inline indexed mesh placed with a transform.
type MeshShape struct {
	Name         string   `yaml:"name" json:"name"`
	Vertices     []Point  `yaml:"vertices" json:"vertices"`
	Faces        [][3]int `yaml:"faces" json:"faces"`
	RotationYDeg float64  `yaml:"rotation_y_deg" json:"rotation_y_deg"`
	Scale        *Point   `yaml:"scale,omitempty" json:"scale,omitempty"`
	Translation  Point    `yaml:"translation" json:"translation"`
	Copies       []Point  `yaml:"copies,omitempty" json:"copies,omitempty"`
}

// LoadScenario loads a scenario from the specified file path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("error parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// DefaultScenario returns the embedded survey scenario.
func DefaultScenario() *Scenario {
	sc, err := ParseScenario(defaultScenarioYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default scenario is invalid: %v", err))
	}
	return sc
}

// ResolvedKind returns Kind, deriving it from Mode when unset.
func (s *Scenario) ResolvedKind() string {
	if s.Kind != "" {
		return s.Kind
	}
	switch strings.ToUpper(s.Mode) {
	case "SURVEY":
		return KindSurvey
	case "2DMT", "TEST2DMULTITEXTURE":
		return KindPlanar
	default:
		return KindWaypoints
	}
}

// Validate checks the scenario for values the simulation cannot use.
func (s *Scenario) Validate() error {
	if s.Mode == "" {
		return fmt.Errorf("missing required field in scenario: mode")
	}
	switch s.ResolvedKind() {
	case KindSurvey, KindWaypoints, KindPlanar:
	default:
		return fmt.Errorf("invalid scenario kind '%s'", s.Kind)
	}
	if s.Survey != nil && s.Survey.Columns < 0 {
		return fmt.Errorf("invalid survey.columns %d", s.Survey.Columns)
	}
	for i, m := range s.Terrain.Meshes {
		if len(m.Vertices) == 0 || len(m.Faces) == 0 {
			return fmt.Errorf("terrain mesh %d (%s) has no geometry", i, m.Name)
		}
	}
	return nil
}

// Waypoints returns the explicit targets followed by the survey pattern.
func (s *Scenario) Waypoints() []geom.Vec3 {
	out := make([]geom.Vec3, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, t.Vec())
	}
	if s.Survey != nil {
		out = append(out, s.Survey.Targets()...)
	}
	return out
}

// StartVec returns the optional start position.
func (s *Scenario) StartVec() *geom.Vec3 {
	if s.Start == nil {
		return nil
	}
	v := s.Start.Vec()
	return &v
}

// BuildTerrain appends every shape to a fresh builder and freezes it.
func (s *Scenario) BuildTerrain() (*terrain.Model, error) {
	b := terrain.NewBuilder()
	for i, box := range s.Terrain.Boxes {
		if err := b.AddBox(box.Center.Vec(), box.Half.Vec()); err != nil {
			return nil, fmt.Errorf("terrain box %d: %w", i, err)
		}
	}
	for i, q := range s.Terrain.Quads {
		if err := b.AddQuad(q.Center.Vec(), q.W, q.H, q.D); err != nil {
			return nil, fmt.Errorf("terrain quad %d: %w", i, err)
		}
	}
	for i, m := range s.Terrain.Meshes {
		mesh := terrain.Mesh{Faces: m.Faces, Vertices: make([]geom.Vec3, len(m.Vertices))}
		for j, v := range m.Vertices {
			mesh.Vertices[j] = v.Vec()
		}
		tf := terrain.Transform{RotationYDeg: m.RotationYDeg, Scale: geom.Vec3{1, 1, 1}, Translation: m.Translation.Vec()}
		if m.Scale != nil {
			tf.Scale = m.Scale.Vec()
		}

		placements := append([]Point{m.Translation}, m.Copies...)
		for _, at := range placements {
			tf.Translation = at.Vec()
			if err := b.AddMesh(mesh, tf); err != nil {
				return nil, fmt.Errorf("terrain mesh %d (%s): %w", i, m.Name, err)
			}
		}
	}
	return b.Build(), nil
}

// ToYAML encodes the scenario.
func (s *Scenario) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

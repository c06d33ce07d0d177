package localmap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// ErrStarved is returned alongside an update whose extraction window held
// fewer than Config.MinExtractPoints points. The window is still published.
var ErrStarved = errors.New("localmap: extraction window starved")

// Config controls fusion and target extraction.
type Config struct {
	// MinAddScanShift is the planar distance (metres) the vehicle must
	// travel from the last fused pose before another scan is fused.
	MinAddScanShift float64

	// ExtractLength and ExtractWidth size the axis-aligned target window
	// (metres, along world X and Y) centred on the current pose. Windowing
	// is enabled only when both are positive.
	ExtractLength float64
	ExtractWidth  float64

	// MapVoxelLeafSize downsamples every extracted target. Zero disables
	// downsampling.
	MapVoxelLeafSize float64

	// MinUpdateTargetMap is the planar distance from the last extraction
	// centre that triggers a fresh window. Zero re-extracts every cycle.
	MinUpdateTargetMap float64

	// MinExtractPoints flags windows smaller than this as starved.
	MinExtractPoints int
}

// Windowed reports whether target extraction is enabled.
func (c Config) Windowed() bool {
	return c.ExtractLength > 0 && c.ExtractWidth > 0
}

// Snapshot is an immutable matcher target. Version increases with every
// publication.
type Snapshot struct {
	Version uint64
	Points  []scan.Point
	Center  pose.Pose
	Starved bool

	// MapPoints is the size of the authoritative map the window was cut from.
	MapPoints int
}

// Update reports what one cycle did to the map.
type Update struct {
	Fused     bool
	Extracted bool

	// Shift is the planar distance from the previous fused pose.
	Shift float64

	// Snapshot is the target published for the next match.
	Snapshot *Snapshot
}

// State is a consistent copy of the authoritative map for persistence.
type State struct {
	Points     []scan.Point
	AddedPose  pose.Pose
	FusedCount int

	// Revision increases whenever the map changes.
	Revision uint64
}

// Manager maintains the authoritative map and its target window.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	points      []scan.Point
	added       pose.Pose
	fused       int
	initialized bool
	revision    uint64

	// Cycle-owned; only touched by Bootstrap, Update and Load, which the
	// localization loop serialises.
	center     pose.Pose
	haveCenter bool
	version    uint64

	snap atomic.Pointer[Snapshot]
}

// New returns an empty, uninitialised Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Initialized reports whether a first scan has been fused or a map loaded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Map returns a read-only view of the authoritative map. Later fusions
// never modify the returned slice.
func (m *Manager) Map() []scan.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.points)
	return m.points[:n:n]
}

// AddedPose returns the body pose of the most recent fusion.
func (m *Manager) AddedPose() pose.Pose {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.added
}

// FusedCount returns how many scans have been fused.
func (m *Manager) FusedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fused
}

// State returns a consistent copy of the map's persistent fields.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.points)
	return State{
		Points:     m.points[:n:n],
		AddedPose:  m.added,
		FusedCount: m.fused,
		Revision:   m.revision,
	}
}

// Snapshot returns the most recently published target, or nil before the
// first publication.
func (m *Manager) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Bootstrap fuses the first scan without matching. points are in the
// sensor frame; sensor places them in the world and body becomes the
// added pose. An empty scan leaves the manager uninitialised so the next
// non-empty scan bootstraps instead.
func (m *Manager) Bootstrap(points []scan.Point, sensor pose.Transform, body pose.Pose) (Update, error) {
	if m.Initialized() {
		return Update{}, errors.New("localmap: already initialised")
	}
	if len(points) == 0 {
		opsf("bootstrap: first scan has no points; waiting for the next")
		return Update{}, nil
	}
	m.fuse(points, sensor, body)
	diagf("bootstrap: %d points at %v", len(points), body)

	u := Update{Fused: true, Extracted: true}
	var err error
	u.Snapshot, err = m.publish(body)
	return u, err
}

// Update runs the fusion and extraction decisions for one cycle. matched
// is false for degraded cycles, which never fuse.
func (m *Manager) Update(points []scan.Point, sensor pose.Transform, body pose.Pose, matched bool) (Update, error) {
	if !m.Initialized() {
		return m.Bootstrap(points, sensor, body)
	}

	u := Update{Shift: body.PlanarDistance(m.AddedPose())}
	if matched && u.Shift >= m.cfg.MinAddScanShift {
		m.fuse(points, sensor, body)
		u.Fused = true
		diagf("fused %d points, shift %.3f m, map now %d points", len(points), u.Shift, len(m.Map()))
	}

	if !m.needsExtraction(u.Fused, body) {
		u.Snapshot = m.Snapshot()
		return u, nil
	}
	u.Extracted = true
	var err error
	u.Snapshot, err = m.publish(body)
	return u, err
}

func (m *Manager) needsExtraction(fused bool, body pose.Pose) bool {
	if fused || !m.haveCenter {
		return true
	}
	if !m.cfg.Windowed() {
		return false
	}
	return body.PlanarDistance(m.center) >= m.cfg.MinUpdateTargetMap
}

// Load replaces the authoritative map wholesale, for example with a
// persisted snapshot at startup, and publishes a target around addedPose.
func (m *Manager) Load(points []scan.Point, addedPose pose.Pose, fusedCount int) (*Snapshot, error) {
	m.mu.Lock()
	m.points = append([]scan.Point(nil), points...)
	m.added = addedPose
	m.fused = fusedCount
	m.initialized = len(points) > 0
	m.revision++
	m.mu.Unlock()

	m.haveCenter = false
	if len(points) == 0 {
		return nil, nil
	}
	diagf("loaded map: %d points, %d fused scans, added pose %v", len(points), fusedCount, addedPose)
	return m.publish(addedPose)
}

func (m *Manager) fuse(points []scan.Point, sensor pose.Transform, body pose.Pose) {
	world := scan.TransformPoints(points, sensor)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, world...)
	m.added = body
	m.fused++
	m.initialized = true
	m.revision++
}

// publish cuts a new target around center and swaps it in.
func (m *Manager) publish(center pose.Pose) (*Snapshot, error) {
	all := m.Map()

	var target []scan.Point
	if m.cfg.Windowed() {
		target = window(all, center, m.cfg.ExtractLength, m.cfg.ExtractWidth)
	} else {
		target = all
	}
	// Without windowing or downsampling the target aliases the map view,
	// which is safe because the map only ever grows past it.
	target = scan.VoxelGrid(target, m.cfg.MapVoxelLeafSize)

	m.version++
	s := &Snapshot{
		Version:   m.version,
		Points:    target,
		Center:    center,
		Starved:   len(target) < m.cfg.MinExtractPoints,
		MapPoints: len(all),
	}
	m.snap.Store(s)
	m.center, m.haveCenter = center, true
	tracef("target v%d: %d of %d points around (%.2f, %.2f)", s.Version, len(target), len(all), center.X, center.Y)

	if s.Starved {
		opsf("target v%d starved: %d points < %d", s.Version, len(target), m.cfg.MinExtractPoints)
		return s, fmt.Errorf("%w: %d points < %d", ErrStarved, len(target), m.cfg.MinExtractPoints)
	}
	return s, nil
}

// window returns the points inside the length × width rectangle centred
// on c. The result never aliases points.
func window(points []scan.Point, c pose.Pose, length, width float64) []scan.Point {
	b := orb.Bound{
		Min: orb.Point{c.X - length/2, c.Y - width/2},
		Max: orb.Point{c.X + length/2, c.Y + width/2},
	}
	out := make([]scan.Point, 0, len(points)/4)
	for _, p := range points {
		if b.Contains(orb.Point{p.X, p.Y}) {
			out = append(out, p)
		}
	}
	return out
}

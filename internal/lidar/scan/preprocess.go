package scan

// PreprocessConfig bounds the per-scan filter.
type PreprocessConfig struct {
	// MinScanRange drops returns closer than this planar range (metres),
	// typically the vehicle body itself.
	MinScanRange float64

	// MaxScanRange drops returns beyond this planar range (metres).
	// Zero disables the upper bound.
	MaxScanRange float64

	// VoxelLeafSize is the side length (metres) of the downsampling voxel
	// for the matcher source. Zero disables downsampling.
	VoxelLeafSize float64
}

// Stats describes what one Process call did to a scan.
type Stats struct {
	Input      int `json:"input"`
	Kept       int `json:"kept"`
	BelowRange int `json:"below_range"`
	AboveRange int `json:"above_range"`
	NonFinite  int `json:"non_finite"`
	Voxels     int `json:"voxels"`
}

// Result is the output of Process. Filtered is the range-limited scan in
// the sensor frame, used for map fusion; Downsampled is its voxel grid,
// used as the matcher source.
type Result struct {
	Filtered    []Point
	Downsampled []Point
	Stats       Stats
}

// Preprocessor range-filters and voxel-downsamples incoming scans.
type Preprocessor struct {
	cfg PreprocessConfig
}

// NewPreprocessor constructs a Preprocessor.
func NewPreprocessor(cfg PreprocessConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// Config returns the preprocessor configuration.
func (p *Preprocessor) Config() PreprocessConfig {
	return p.cfg
}

// Process filters cloud by planar range and voxel-downsamples the
// survivors. The input cloud is never modified.
func (p *Preprocessor) Process(cloud Cloud) Result {
	res := Result{Stats: Stats{Input: len(cloud.Points)}}
	if len(cloud.Points) == 0 {
		return res
	}

	filtered := make([]Point, 0, len(cloud.Points))
	for _, pt := range cloud.Points {
		if !pt.IsFinite() {
			res.Stats.NonFinite++
			continue
		}
		r := pt.PlanarRange()
		if r < p.cfg.MinScanRange {
			res.Stats.BelowRange++
			continue
		}
		if p.cfg.MaxScanRange > 0 && r > p.cfg.MaxScanRange {
			res.Stats.AboveRange++
			continue
		}
		filtered = append(filtered, pt)
	}

	res.Filtered = filtered
	res.Stats.Kept = len(filtered)
	res.Downsampled = VoxelGrid(filtered, p.cfg.VoxelLeafSize)
	res.Stats.Voxels = len(res.Downsampled)
	return res
}

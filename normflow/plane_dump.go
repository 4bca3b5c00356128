package normflow

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v3"

	"go.viam.com/evcalib/logging"
	"go.viam.com/evcalib/rimage"
)

// FittedPlane is one accepted local plane with its mean-centred inlier samples (x, y, t).
type FittedPlane struct {
	Coefficients [3]float64   `yaml:"coefficients"`
	Inliers      [][3]float64 `yaml:"inliers,flow"`
}

type planeDump struct {
	Planes []FittedPlane `yaml:"event_local_planes"`
}

// PlaneDumper writes the planes of successive extractions to numbered YAML files in a debug
// directory, each next to a PPM of that extraction's visualization. Nothing is written while the
// directory does not exist.
type PlaneDumper struct {
	dir    string
	logger logging.Logger
	count  atomic.Int64
}

// NewPlaneDumper returns a dumper writing into dir.
func NewPlaneDumper(dir string, logger logging.Logger) *PlaneDumper {
	return &PlaneDumper{dir: dir, logger: logger}
}

// Enabled reports whether the debug directory exists.
func (d *PlaneDumper) Enabled() bool {
	info, err := os.Stat(d.dir)
	return err == nil && info.IsDir()
}

// Dump writes planes, and visualization unless it is nil, to the next pair of files and returns the
// YAML path, or "" when the directory is missing.
func (d *PlaneDumper) Dump(planes []FittedPlane, visualization image.Image) (string, error) {
	if !d.Enabled() {
		return "", nil
	}
	data, err := yaml.Marshal(planeDump{Planes: planes})
	if err != nil {
		return "", errors.Wrap(err, "cannot encode local planes")
	}

	n := d.count.Inc() - 1
	name := filepath.Join(d.dir, fmt.Sprintf("event_local_planes%d.yaml", n))

	//nolint:gosec
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "cannot write %q", name)
	}
	if visualization != nil {
		if err := rimage.WriteImageToFile(filepath.Join(d.dir, fmt.Sprintf("event_norm_flow%d.ppm", n)), visualization); err != nil {
			return "", err
		}
	}
	d.logger.Debugw("dumped local planes", "path", name, "planes", len(planes))
	return name, nil
}

// ReadPlaneDump loads a file written by Dump.
func ReadPlaneDump(path string) ([]FittedPlane, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", path)
	}
	var dump planeDump
	if err := yaml.Unmarshal(data, &dump); err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return dump.Planes, nil
}

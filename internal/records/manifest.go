package records

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/wfnconv/internal/version"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

const ManifestFile = "manifest.json"

// Manifest describes one export run.
type Manifest struct {
	RunID      string    `json:"run_id"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source,omitempty"`
	Shape      ShapeInfo `json:"shape"`
	SpinLayout string    `json:"spin_layout"`
	Precision  int       `json:"precision"`
	Records    []string  `json:"records"`
}

// ShapeInfo is the JSON form of a wfn.Shape.
type ShapeInfo struct {
	NumKPoints int   `json:"nrk"`
	NumSpin    int   `json:"nspin"`
	NumSpinor  int   `json:"nspinor"`
	NumBands   int   `json:"nb"`
	GVecCounts []int `json:"ngk"`
}

func NewShapeInfo(s wfn.Shape) ShapeInfo {
	return ShapeInfo{
		NumKPoints: s.NumKPoints,
		NumSpin:    s.NumSpin,
		NumSpinor:  s.NumSpinor,
		NumBands:   s.NumBands,
		GVecCounts: s.GVecCounts(),
	}
}

// Shape validates and converts back to a wfn.Shape.
func (s ShapeInfo) Shape() (wfn.Shape, error) {
	return wfn.NewShape(s.NumKPoints, s.NumSpin, s.NumSpinor, s.NumBands, s.GVecCounts)
}

// NewManifest starts a manifest with a fresh run id.
func NewManifest(s wfn.Shape, layout wfn.SpinLayout, precision int) Manifest {
	return Manifest{
		RunID:      uuid.NewString(),
		Version:    version.String(),
		CreatedAt:  time.Now().UTC(),
		Shape:      NewShapeInfo(s),
		SpinLayout: layout.String(),
		Precision:  precision,
	}
}

// Check reports whether the manifest was written for shape and layout.
func (m Manifest) Check(s wfn.Shape, layout wfn.SpinLayout) error {
	ms, err := m.Shape.Shape()
	if err != nil {
		return fmt.Errorf("manifest shape: %w", err)
	}
	if !ms.Equal(s) {
		return fmt.Errorf("%w: records were exported for %s, header says %s", wfn.ErrShapeMismatch, ms, s)
	}
	if m.SpinLayout != "" && m.SpinLayout != layout.String() {
		return fmt.Errorf("%w: records use spin layout %s, not %s", wfn.ErrShapeMismatch, m.SpinLayout, layout)
	}
	return nil
}

// WriteManifest stores m as manifest.json.
func (d *Dir) WriteManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')
	tmp := filepath.Join(d.path, "."+ManifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	if err := os.Rename(tmp, filepath.Join(d.path, ManifestFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	return nil
}

// ReadManifest loads manifest.json. ok is false when the directory has none.
func (d *Dir) ReadManifest() (m Manifest, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(d.path, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("%w: %s: %w", wfn.ErrRecordFormat, ManifestFile, err)
	}
	return m, true, nil
}

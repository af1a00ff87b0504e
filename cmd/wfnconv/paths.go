package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/wfnconv/internal/h5store"
	"github.com/samcharles93/wfnconv/internal/header"
	"github.com/samcharles93/wfnconv/internal/wfcstore"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

const envOutDir = "WFNCONV_OUT_DIR"

// resolveOut picks the output path for a conversion of in. An explicit
// outFlag wins; otherwise the input's base name with ext appended is placed
// in $WFNCONV_OUT_DIR, or ./out. The parent directory is created.
func resolveOut(in, outFlag, ext string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(in))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid input path: %q", in)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(outDir, base+ext)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

// isHDF5 reports whether path names an HDF5 file by extension.
func isHDF5(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5":
		return true
	}
	return false
}

// openStore opens path read-only, as HDF5 or as a WFC container.
func openStore(path string) (wfn.Store, error) {
	if isHDF5(path) {
		s, err := h5store.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := wfcstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", wfn.ErrStoreIO, path, err)
	}
	return s, nil
}

// resolveShape reads the shape from headerPath when set, otherwise from the
// header datasets of store.
func resolveShape(store wfn.Store, headerPath string) (wfn.Shape, error) {
	if headerPath == "" {
		return header.FromStore(store)
	}
	return readHeaderFile(headerPath)
}

func readHeaderFile(path string) (wfn.Shape, error) {
	f, err := os.Open(path)
	if err != nil {
		return wfn.Shape{}, fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	defer f.Close()
	s, err := header.Parse(f)
	if err != nil {
		return wfn.Shape{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

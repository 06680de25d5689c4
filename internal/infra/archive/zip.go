// Package archive bundles workspace artifacts for upload.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/arrajeevchandar/aerominds/internal/fsx"
	"go.uber.org/multierr"
)

type ZipCreator struct{}

func NewZipCreator() *ZipCreator {
	return &ZipCreator{}
}

// CreateZip writes every file in paths, descending into directories, to a
// zip at outputPath. Entry names are slash separated and relative to
// baseDir; paths outside baseDir are rejected. The zip appears atomically.
func (z *ZipCreator) CreateZip(ctx context.Context, baseDir string, paths []string, outputPath string) error {
	files, err := collect(baseDir, paths)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(outputPath, 0o644, func(w io.Writer) (err error) {
		zw := zip.NewWriter(w)
		defer func() { err = multierr.Append(err, zw.Close()) }()

		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := addFileToZip(zw, f.path, f.name); err != nil {
				return fmt.Errorf("add %s to zip: %w", f.path, err)
			}
		}
		return nil
	})
}

type entry struct {
	path string
	name string
}

func collect(baseDir string, paths []string) ([]entry, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, p := range paths {
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, abs)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return fmt.Errorf("%s is outside %s", path, baseDir)
			}
			out = append(out, entry{path: path, name: filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", p, err)
		}
	}
	return out, nil
}

func addFileToZip(zw *zip.Writer, filename, name string) (err error) {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, file.Close()) }()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(writer, file)
	return err
}

// Package files describes user-selected payload files.
package files

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

type FileDescriptor struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// Describe stats path and sniffs its MIME type from the content.
func Describe(path string) (FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileDescriptor{}, fmt.Errorf("%s is a directory", path)
	}
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("detect mime %s: %w", path, err)
	}
	return FileDescriptor{
		Name:      filepath.Base(path),
		SizeBytes: info.Size(),
		MimeType:  mime.String(),
	}, nil
}

// DescribeAll describes every path, stopping at the first failure.
func DescribeAll(paths []string) ([]FileDescriptor, error) {
	out := make([]FileDescriptor, 0, len(paths))
	for _, p := range paths {
		d, err := Describe(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// PayloadBytes is the summed size of descs, or manual when descs is empty.
func PayloadBytes(descs []FileDescriptor, manual float64) float64 {
	if len(descs) == 0 {
		return manual
	}
	return float64(lo.SumBy(descs, func(d FileDescriptor) int64 { return d.SizeBytes }))
}

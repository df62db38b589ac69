// Package storage abstracts the file store used for export artifacts and
// issue screenshots so services never touch the filesystem directly.
package storage

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
)

type UsageStats struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

type Storage interface {
	Read(path string) (io.ReadCloser, error)

	Write(path string, data io.Reader) error

	Append(path string, data io.Reader) error

	Delete(path string) error

	List(path string) ([]string, error)

	Exists(path string) (bool, error)

	Zip(path string) error

	Size(path string) (int64, error)

	Usage() (UsageStats, error)

	Location() string
}

func VpatPath(vpatId uuid.UUID) string {
	return filepath.Join("vpats", vpatId.String())
}

func VpatExportDir(vpatId uuid.UUID) string {
	return filepath.Join(VpatPath(vpatId), "exports")
}

func VpatExportPath(vpatId uuid.UUID, versionNumber int, format string) string {
	return filepath.Join(VpatExportDir(vpatId), fmt.Sprintf("v%d.%v", versionNumber, format))
}

func ScreenshotPath(issueId uuid.UUID, filename string) string {
	return filepath.Join("issues", issueId.String(), "screenshots", filepath.Base(filename))
}

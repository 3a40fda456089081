package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/menta2k/segprep/pkg/dataset"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an extension we can decode
func IsImageFile(filename string) bool {
	switch GetFileExtension(filename) {
	case "jpg", "jpeg", "png", "bmp", "tiff", "webp":
		return true
	}
	return false
}

// GenerateOutputFilename builds <dir>/<name><suffix>.<format> for a sample name
func GenerateOutputFilename(name, outputDir, suffix, format string) string {
	if format == "" {
		format = "png"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s%s.%s", SanitizeFilename(name), suffix, format))
}

// ListImageFiles recursively lists image files under dir, relative to dir
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// PairStats reports how many files PairFiles could not match
type PairStats struct {
	Images         int
	Labels         int
	UnmatchedImage int
	UnmatchedLabel int
}

// PairFiles matches images under imgRoot with labels under gtRoot. A file's
// key is its path relative to the root with the extension and the given
// suffix removed, so "a/x_leftImg8bit.png" and "a/x_gtFine_labelIds.png"
// pair with suffixes "_leftImg8bit" and "_gtFine_labelIds". Entries are
// relative to the roots and sorted by image path.
func PairFiles(imgRoot, gtRoot, imgSuffix, gtSuffix string) ([]dataset.Entry, PairStats, error) {
	var stats PairStats
	images, err := ListImageFiles(imgRoot)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to list images: %w", err)
	}
	labels, err := ListImageFiles(gtRoot)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to list labels: %w", err)
	}
	stats.Images, stats.Labels = len(images), len(labels)

	byKey := make(map[string]string, len(labels))
	for _, l := range labels {
		byKey[pairKey(l, gtSuffix)] = l
	}

	var entries []dataset.Entry
	used := make(map[string]bool, len(labels))
	for _, img := range images {
		label, ok := byKey[pairKey(img, imgSuffix)]
		if !ok || used[label] {
			stats.UnmatchedImage++
			continue
		}
		used[label] = true
		entries = append(entries, dataset.Entry{Image: img, Label: label})
	}
	stats.UnmatchedLabel = len(labels) - len(used)
	return entries, stats, nil
}

func pairKey(rel, suffix string) string {
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.TrimSuffix(stem, suffix)
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return strings.Trim(r.Replace(filename), " .")
}

// FileSize returns the human-readable size of a file, or "?" if it cannot be read
func FileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.IBytes(uint64(info.Size()))
}

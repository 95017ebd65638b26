package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const debugSuffix = ".debug.png"

// DefaultExtensions are the image extensions picked up by a batch run
var DefaultExtensions = []string{"jpg", "jpeg", "png"}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// GetFileExtension returns the lowercased file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has one of the given extensions (case-insensitive)
func IsImageFile(filename string, exts []string) bool {
	ext := GetFileExtension(filename)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// ListImageFiles recursively lists image files under dir, sorted by path.
// Debug overlays written by earlier runs are never listed.
func ListImageFiles(dir string, exts []string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path, exts) && !IsDebugOverlay(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// MirrorPath maps a file under inputRoot to the same relative location under outputRoot.
// It returns the relative path and the output path.
func MirrorPath(inputRoot, outputRoot, path string) (string, string, error) {
	rel, err := filepath.Rel(inputRoot, path)
	if err != nil {
		return "", "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%s is outside %s", path, inputRoot)
	}
	return rel, filepath.Join(outputRoot, rel), nil
}

// DebugPath returns the overlay path written next to an output file
func DebugPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + debugSuffix
}

// IsDebugOverlay reports whether path is named like a debug overlay
func IsDebugOverlay(path string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(path)), debugSuffix)
}

// IsWithin reports whether path lies inside root (or is root)
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileExists checks if a regular file exists
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

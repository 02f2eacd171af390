package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/utils"
)

var (
	ErrNoFiles      = errors.New("no files specified")
	ErrTooManyFiles = errors.New("too many files")
	ErrFileTooLarge = errors.New("file too large")
	ErrEmptyFile    = errors.New("file is empty")
)

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename without directory
	Name string

	Size int64

	// Type is the MIME type guessed from the extension
	Type string
}

// Limits bound a single batch.
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

// ValidateFiles checks every path and reports all problems at once.
func ValidateFiles(paths []string, limits Limits) ([]FileInfo, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	if limits.MaxFiles > 0 && len(paths) > limits.MaxFiles {
		return nil, fmt.Errorf("%w: %d given, at most %d per batch", ErrTooManyFiles, len(paths), limits.MaxFiles)
	}

	var (
		infos []FileInfo
		errs  []error
	)
	for _, path := range paths {
		info, err := validateSingleFile(path, limits)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("file validation failed: %w", errors.Join(errs...))
	}
	return infos, nil
}

func validateSingleFile(path string, limits Limits) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if limits.MaxFileSize > 0 && stat.Size() > limits.MaxFileSize {
		return FileInfo{}, fmt.Errorf("%s: %w (%s, limit %s)", path, ErrFileTooLarge,
			utils.FormatSize(stat.Size()), utils.FormatSize(limits.MaxFileSize))
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(absPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: mimeType,
	}, nil
}

// Sources turns validated files into the sender's input, in order.
func Sources(infos []FileInfo) []transfer.Source {
	sources := make([]transfer.Source, len(infos))
	for i, f := range infos {
		sources[i] = transfer.FileSource(f.Path, f.Name, f.Type, f.Size)
	}
	return sources
}

// GetTotalSize returns the total size of all files
func GetTotalSize(infos []FileInfo) int64 {
	var total int64
	for _, file := range infos {
		total += file.Size
	}
	return total
}

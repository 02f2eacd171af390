package transfer

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BioHazard786/codedrop/internal/utils"
)

// DirSink writes each file into a directory, never overwriting.
type DirSink struct {
	Dir   string
	Paths []string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewFileError("create directory", dir, err)
	}
	return &DirSink{Dir: dir}, nil
}

func (s *DirSink) Save(name, _ string, data []byte) error {
	path := utils.UniqueFilename(filepath.Join(s.Dir, utils.SafeName(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	s.Paths = append(s.Paths, path)
	return nil
}

// ArchiveSink collects every file of a batch into one zip archive.
type ArchiveSink struct {
	archive *utils.Archive
}

func NewArchiveSink(target string) (*ArchiveSink, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, NewFileError("create directory", filepath.Dir(target), err)
	}
	a, err := utils.CreateArchive(target)
	if err != nil {
		return nil, NewFileError("create archive", target, err)
	}
	return &ArchiveSink{archive: a}, nil
}

func (s *ArchiveSink) Save(name, _ string, data []byte) error {
	return s.archive.Add(utils.SafeName(name), data)
}

// Path is where the archive is written.
func (s *ArchiveSink) Path() string {
	return s.archive.Path
}

func (s *ArchiveSink) Close() error {
	return s.archive.Close()
}

// Artifact is a file kept by MemorySink.
type Artifact struct {
	Name     string
	MimeType string
	Data     []byte
}

// MemorySink keeps assembled files in memory.
type MemorySink struct {
	mu        sync.Mutex
	artifacts []Artifact
}

func (s *MemorySink) Save(name, mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, Artifact{Name: name, MimeType: mimeType, Data: data})
	return nil
}

func (s *MemorySink) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Artifact(nil), s.artifacts...)
}

package utils

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zip"
)

// Archive writes entries into a single zip file as they arrive.
type Archive struct {
	file  *os.File
	zw    *zip.Writer
	names  map[string]int
	closed bool
	Path   string
}

// CreateArchive creates the zip file at target, never overwriting an
// existing one.
func CreateArchive(target string) (*Archive, error) {
	target = UniqueFilename(target)
	f, err := os.Create(target)
	if err != nil {
		return nil, err
	}
	return &Archive{
		file:  f,
		zw:    zip.NewWriter(f),
		names: make(map[string]int),
		Path:  target,
	}, nil
}

// Add stores data under name, renaming duplicates to "name (1).ext".
func (a *Archive) Add(name string, data []byte) error {
	entry := a.uniqueEntry(name)

	header := &zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	w, err := a.zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Close finalises the archive. Later calls do nothing.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.zw.Close(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

func (a *Archive) uniqueEntry(name string) string {
	n, seen := a.names[name]
	a.names[name] = n + 1
	if !seen {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s (%d)%s", name[:len(name)-len(ext)], n, ext)
}

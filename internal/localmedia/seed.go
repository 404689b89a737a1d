// Package localmedia reads datasource payloads from the local machine: seed directories and
// labelled volumes such as cidata or config-2 images. Volumes are mounted read-only for the
// duration of a single read and released on every exit path.
package localmedia

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrNoSeed indicates a seed location lacks its primary document.
var ErrNoSeed = errors.New("no seed found")

// ReadSeed reads primary and any of optional from dir. Missing optional files are omitted from
// the result. A missing primary file returns an error wrapping ErrNoSeed. Names may contain
// slashes to address nested documents.
func ReadSeed(fsys afero.Fs, dir, primary string, optional ...string) (map[string][]byte, error) {
	docs := make(map[string][]byte, len(optional)+1)

	data, err := afero.ReadFile(fsys, filepath.Join(dir, primary))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrNoSeed, filepath.Join(dir, primary))
		}
		return nil, err
	}
	docs[primary] = data

	for _, name := range optional {
		data, err := afero.ReadFile(fsys, filepath.Join(dir, name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return nil, err
		}
		docs[name] = data
	}

	return docs, nil
}

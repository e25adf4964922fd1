// Package definition loads the YAML screen definitions of the back office,
// validates them, and serves them from a registry that can be swapped
// atomically on reload.
package definition

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/backoffice/model"
)

// Loader reads domain definitions from disk. A file may hold several
// domains separated by "---"; entries whose name starts with "." or "_" are
// ignored so editors' scratch files and disabled screens never load.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll reads every *.yaml and *.yml file under directories in path order,
// so checksums and menu order do not depend on the filesystem.
func (l *Loader) LoadAll(directories []string) ([]model.DomainDefinition, error) {
	var files []string
	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != dir && ignored(d.Name()) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() && isYAML(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("definition: scanning %s: %w", dir, err)
		}
	}
	slices.Sort(files)

	var defs []model.DomainDefinition
	for _, path := range files {
		fileDefs, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}

// LoadFile parses every document in the file at path. Unknown keys are
// errors. Each definition is stamped with its source file and a checksum of
// the raw file plus its position in it.
func (l *Loader) LoadFile(path string) ([]model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definition: reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []model.DomainDefinition
	for i := 0; ; i++ {
		var def model.DomainDefinition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("definition: parsing %s (document %d): %w", path, i+1, err)
		}
		if def.Domain == "" && len(def.Screens) == 0 && len(def.Lookups) == 0 {
			continue
		}
		def.SourceFile = path
		def.Checksum = hex.EncodeToString(sum[:])
		if i > 0 {
			def.Checksum = fmt.Sprintf("%s#%d", def.Checksum, i)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("definition: %s contains no domain definitions", path)
	}
	return defs, nil
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

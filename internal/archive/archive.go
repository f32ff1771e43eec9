// Package archive packs exported sessions into a tar.gz bundle and unpacks
// bundles for import. A bundle holds manifest.yaml and sessions.json.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const (
	Format  = "chatsync-sessions"
	Version = 1

	manifestName = "manifest.yaml"
	sessionsName = "sessions.json"

	// maxEntrySize caps any single entry read from a bundle
	maxEntrySize = 256 << 20
)

var ErrInvalidBundle = errors.New("invalid session bundle")

// Manifest describes a bundle
type Manifest struct {
	Format    string              `yaml:"format"`
	Version   int                 `yaml:"version"`
	CreatedAt time.Time           `yaml:"createdAt"`
	Count     int                 `yaml:"count"`
	Checksum  string              `yaml:"checksum"`
	Filter    models.ExportFilter `yaml:"filter,omitempty"`
}

// Write packs records into w
func Write(w io.Writer, records []models.ExportRecord, filter models.ExportFilter) (*Manifest, error) {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	sum := sha256.Sum256(payload)

	manifest := &Manifest{
		Format:    Format,
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Count:     len(records),
		Checksum:  hex.EncodeToString(sum[:]),
		Filter:    filter,
	}

	var mbuf bytes.Buffer
	enc := yaml.NewEncoder(&mbuf)
	if err := enc.Encode(manifest); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	for _, entry := range []struct {
		name string
		data []byte
	}{
		{manifestName, mbuf.Bytes()},
		{sessionsName, payload},
	} {
		header := &tar.Header{
			Name:    entry.name,
			Mode:    0644,
			Size:    int64(len(entry.data)),
			ModTime: manifest.CreatedAt,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tarWriter.Write(entry.data); err != nil {
			return nil, err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// WriteFile packs records into a bundle at path, replacing it atomically
func WriteFile(path string, records []models.ExportRecord, filter models.ExportFilter) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	manifest, err := Write(tmp, records, filter)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to move bundle into place: %w", err)
	}
	return manifest, nil
}

// Read unpacks a bundle into import records. Unknown entries are skipped.
func Read(r io.Reader) (*Manifest, []models.ImportRecord, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	var manifest *Manifest
	var payload []byte
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if header.Size > maxEntrySize {
			return nil, nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidBundle, header.Name, header.Size)
		}

		switch filepath.Clean(header.Name) {
		case manifestName:
			data, err := io.ReadAll(tarReader)
			if err != nil {
				return nil, nil, err
			}
			manifest = &Manifest{}
			if err := yaml.Unmarshal(data, manifest); err != nil {
				return nil, nil, fmt.Errorf("%w: manifest: %v", ErrInvalidBundle, err)
			}
		case sessionsName:
			if payload, err = io.ReadAll(tarReader); err != nil {
				return nil, nil, err
			}
		}
	}

	if manifest == nil || payload == nil {
		return nil, nil, fmt.Errorf("%w: missing %s or %s", ErrInvalidBundle, manifestName, sessionsName)
	}
	if manifest.Format != Format {
		return nil, nil, fmt.Errorf("%w: unknown format %q", ErrInvalidBundle, manifest.Format)
	}
	if manifest.Version > Version {
		return nil, nil, fmt.Errorf("%w: version %d is newer than supported %d", ErrInvalidBundle, manifest.Version, Version)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != manifest.Checksum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidBundle)
	}

	var exported []models.ExportRecord
	if err := json.Unmarshal(payload, &exported); err != nil {
		return nil, nil, fmt.Errorf("%w: sessions: %v", ErrInvalidBundle, err)
	}

	records := make([]models.ImportRecord, 0, len(exported))
	for _, rec := range exported {
		records = append(records, models.ImportRecord{Session: rec.Session})
	}
	return manifest, records, nil
}

// ReadFile unpacks the bundle at path
func ReadFile(path string) (*Manifest, []models.ImportRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return Read(file)
}

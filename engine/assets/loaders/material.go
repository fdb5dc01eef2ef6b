package loaders

import (
	"bytes"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var ErrInvalidMaterial = errors.New("invalid material")

// MaterialLoader reads .kmt files, which are TOML material descriptions.
type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading material %s", path)
	}
	mCfg, err := ParseMaterial(data)
	if err != nil {
		return nil, errors.Wrapf(err, "material %s", path)
	}
	return &Resource{
		Name:     mCfg.Name,
		FullPath: path,
		Type:     ResourceTypeMaterial,
		DataSize: uint64(unsafe.Sizeof(metadata.MaterialConfig{})),
		Data:     mCfg,
	}, nil
}

// ParseMaterial decodes and validates one material. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func ParseMaterial(data []byte) (*metadata.MaterialConfig, error) {
	materialConfig := &metadata.MaterialConfig{
		Albedo:    [4]float32{1, 1, 1, 1},
		Roughness: 1,
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(materialConfig); err != nil {
		return nil, errors.Wrap(err, "decoding")
	}
	if err := validateMaterial(materialConfig); err != nil {
		return nil, err
	}
	return materialConfig, nil
}

func validateMaterial(material *metadata.MaterialConfig) error {
	if material.Name == "" {
		return errors.Wrap(ErrInvalidMaterial, "name is required")
	}
	for _, v := range material.Albedo {
		if !inRange(v) {
			return errors.Wrapf(ErrInvalidMaterial, "albedo values must be between 0.0 and 1.0, got %v", material.Albedo)
		}
	}
	if !inRange(material.Roughness) || !inRange(material.Metallic) {
		return errors.Wrap(ErrInvalidMaterial, "roughness and metallic must be between 0.0 and 1.0")
	}
	for _, v := range material.Emissive {
		if v < 0 {
			return errors.Wrapf(ErrInvalidMaterial, "emissive must not be negative, got %v", material.Emissive)
		}
	}
	if _, err := metadata.ParseFaceCullMode(material.CullMode); err != nil {
		return errors.Mark(err, ErrInvalidMaterial)
	}
	return nil
}

// Check if a float32 value is within [0.0, 1.0]
func inRange(value float32) bool {
	return value >= 0.0 && value <= 1.0
}

func (ml *MaterialLoader) Unload(*Resource) error {
	return nil
}

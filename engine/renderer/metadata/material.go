package metadata

import "github.com/spaghettifunk/kiln/engine/math"

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

/** @brief The texture index every material falls back to. */
const DefaultTexture int = 0

/**
 * @brief Material configuration typically loaded from
 * a file or created in code to load a material from.
 */
type MaterialConfig struct {
	/** @brief The name of the material. */
	Name string `toml:"name"`
	/** @brief The base colour, multiplied with the albedo map. */
	Albedo [4]float32 `toml:"albedo"`
	/** @brief Perceptual roughness in [0, 1]. */
	Roughness float32 `toml:"roughness"`
	/** @brief Metalness in [0, 1]. */
	Metallic float32 `toml:"metallic"`
	/** @brief Emitted radiance, added after lighting. */
	Emissive [3]float32 `toml:"emissive"`
	/** @brief The albedo map path, relative to the asset directory. */
	AlbedoMap string `toml:"albedo_map"`
	/** @brief The tangent space normal map path. */
	NormalMap string `toml:"normal_map"`
	/** @brief Roughness in green and metalness in blue. */
	MetallicRoughnessMap string `toml:"metallic_roughness_map"`
	/** @brief One of none, front, back. Defaults to back. */
	CullMode string `toml:"cull_mode"`
}

/**
 * @brief A material, which represents various properties
 * of a surface in the world such as texture, colour,
 * roughness and more.
 */
type Material struct {
	/** @brief The material id. */
	ID uint32
	/** @brief The material generation. Incremented every time the material is changed. */
	Generation uint32
	/** @brief The material name. */
	Name string
	/** @brief The base colour. */
	Albedo   math.Vec4
	Emissive math.Vec3
	/** @brief The material roughness. */
	Roughness float32
	Metallic  float32
	/** @brief Index of the albedo map in the material texture array. */
	AlbedoTexture int
	/** @brief Index of the normal map in the material texture array. */
	NormalTexture            int
	MetallicRoughnessTexture int
	CullMode                 FaceCullMode
}

/** @brief The material drawn when nothing else is given. */
func DefaultMaterial() *Material {
	return &Material{
		Name:                     DefaultMaterialName,
		Albedo:                   math.NewVec4(1, 1, 1, 1),
		Roughness:                1,
		AlbedoTexture:            DefaultTexture,
		NormalTexture:            DefaultTexture,
		MetallicRoughnessTexture: DefaultTexture,
		CullMode:                 FaceCullModeBack,
	}
}

// Material builds the material described by the config. The caller resolves
// the texture maps to indices afterwards.
func (c MaterialConfig) Material() (*Material, error) {
	cull, err := ParseFaceCullMode(c.CullMode)
	if err != nil {
		return nil, err
	}
	return &Material{
		Name:      c.Name,
		Albedo:    math.NewVec4(c.Albedo[0], c.Albedo[1], c.Albedo[2], c.Albedo[3]),
		Emissive:  math.NewVec3(c.Emissive[0], c.Emissive[1], c.Emissive[2]),
		Roughness: math.Clamp(c.Roughness, 0, 1),
		Metallic:  math.Clamp(c.Metallic, 0, 1),
		CullMode:  cull,
	}, nil
}

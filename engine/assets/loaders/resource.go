package loaders

type ResourceType int

/** @brief Resource types the asset manager knows how to load. */
const (
	/** @brief Files nothing loads. */
	ResourceTypeNone ResourceType = iota
	/** @brief A compiled SPIR-V shader stage. */
	ResourceTypeShader
	/** @brief An image decoded into a texture with its mip chain. */
	ResourceTypeImage
	/** @brief A material description in TOML. */
	ResourceTypeMaterial
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMaterial:
		return "material"
	default:
		return "none"
	}
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	Type     ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data: []uint32, frame.TextureData or *metadata.MaterialConfig. */
	Data interface{}
}

//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every GLSL stage under shaders/ to SPIR-V in assets/shaders/.
func (Build) Shaders() error {
	return buildShaders()
}

// Runs the unit tests. The renderer tests use the driver fakes, no GPU needed.
func (Build) Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Regenerates the mocks and tidies the module.
func (Build) Generate() error {
	return goGenerate()
}

func buildShaders() error {
	const out = "assets/shaders"
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	var sources []string
	for _, pattern := range []string{"shaders/*.vert", "shaders/*.frag"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return errors.New("no shader sources under shaders/")
	}
	for _, src := range sources {
		dst := filepath.Join(out, filepath.Base(src)+".spv")
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", dst)); err != nil {
			return err
		}
	}
	return nil
}

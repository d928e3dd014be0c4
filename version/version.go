// Package version exposes build metadata embedded by the Go toolchain.
package version

import (
	"runtime/debug"
	"sort"
)

// ModulePath is the docfold module path as it appears in go.mod.
const ModulePath = "github.com/docfold/docfold"

// Dependency is one module requirement of the running binary.
type Dependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo summarizes the binary's build.
type BuildInfo struct {
	GoVersion    string       `json:"go_version"`
	Module       string       `json:"module"`
	Version      string       `json:"version"`
	Dependencies []Dependency `json:"dependencies"`
}

// GetBuildInfo reads the module information embedded at build time.
// Binaries built outside module mode report "unknown" everywhere.
func GetBuildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{
			GoVersion:    "unknown",
			Module:       "unknown",
			Version:      "unknown",
			Dependencies: []Dependency{},
		}
	}

	out := &BuildInfo{
		GoVersion:    info.GoVersion,
		Module:       info.Path,
		Version:      Current(),
		Dependencies: make([]Dependency, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		d := Dependency{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		out.Dependencies = append(out.Dependencies, d)
	}
	sort.Slice(out.Dependencies, func(i, j int) bool {
		return out.Dependencies[i].Path < out.Dependencies[j].Path
	})
	return out
}

// Current returns the docfold version: the tagged module version for
// released builds, "dev" for working-tree builds.
func Current() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if info.Path != ModulePath {
		return "unknown"
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

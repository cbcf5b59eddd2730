// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runs

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/klauspost/cpuid/v2"
)

// gomlxModulePath is used to look up the framework version in the binary's build information.
const gomlxModulePath = "github.com/gomlx/gomlx"

// CurrentHost describes the machine the program is running on.
func CurrentHost() HostInfo {
	hostname, _ := os.Hostname()
	var features []string
	for _, feature := range []cpuid.FeatureID{cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F} {
		if cpuid.CPU.Supports(feature) {
			features = append(features, feature.String())
		}
	}
	return HostInfo{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      features,
	}
}

// Versions returns the Go version and the versions of the main modules linked in the binary.
// Modules not found (e.g. in tests) are reported as "(devel)".
func Versions() map[string]string {
	versions := map[string]string{
		"go":    runtime.Version(),
		"gomlx": "(devel)",
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return versions
	}
	for _, dep := range info.Deps {
		if dep.Path == gomlxModulePath {
			versions["gomlx"] = dep.Version
		}
	}
	if info.Main.Version != "" {
		versions["cifartrain"] = info.Main.Version
	}
	return versions
}

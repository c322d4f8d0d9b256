// Package docker implements the runtime adapter for the Docker Engine API.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Listing containers by the project ownership label (labels are the
//     sole state storage mechanism)
//   - Container lifecycle operations: create, start, stop, remove
//   - Image builds from a local context and image pulls
//   - The per-project bridge network
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
// The adapter registers itself under the name "docker".
package docker

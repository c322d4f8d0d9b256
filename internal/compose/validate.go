package compose

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// validate checks a decoded file and returns every problem found, in
// service-name order, so the user can fix them all in one pass. Dependency
// cycles are left to the graph builder.
func validate(raw *rawFile, dir string) []string {
	if len(raw.Services) == 0 {
		return []string{"no services defined"}
	}

	names := make([]string, 0, len(raw.Services))
	for name := range raw.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	add := func(service, format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf("service %q: ", service)+fmt.Sprintf(format, args...))
	}

	// hostPorts records which service first published each fixed host port.
	hostPorts := map[string]string{}

	for _, name := range names {
		rs := raw.Services[name]
		if err := model.ValidateName(name); err != nil {
			add(name, "%v", err)
		}
		if rs == nil {
			add(name, "definition is empty")
			continue
		}

		if rs.Image == "" && rs.Build == nil {
			add(name, "image or build is required")
		}
		if rs.Build != nil {
			ctx := resolvePath(dir, rs.Build.Context)
			if info, err := os.Stat(ctx); err != nil || !info.IsDir() {
				add(name, "build context %s is not a directory", ctx)
			}
		}

		if rs.Replicas != nil && rs.Deploy != nil && rs.Deploy.Replicas != nil && *rs.Replicas != *rs.Deploy.Replicas {
			add(name, "replicas (%d) and deploy.replicas (%d) disagree", *rs.Replicas, *rs.Deploy.Replicas)
		}
		count := replicas(rs)
		if count < 0 {
			add(name, "replicas must not be negative, got %d", count)
		}

		for _, dep := range rs.DependsOn {
			if dep == name {
				add(name, "depends on itself")
			} else if _, ok := raw.Services[dep]; !ok {
				add(name, "depends on undefined service %q", dep)
			}
		}

		if err := validateRestart(rs.Restart); err != nil {
			add(name, "%v", err)
		}

		for _, spec := range rs.Ports {
			mappings, err := nat.ParsePortSpec(spec)
			if err != nil {
				add(name, "invalid port %q: %v", spec, err)
				continue
			}
			for _, m := range mappings {
				if m.Binding.HostPort == "" {
					continue
				}
				if count > 1 {
					add(name, "port %q publishes fixed host port %s but the service has %d replicas", spec, m.Binding.HostPort, count)
					break
				}
				key := m.Binding.HostIP + ":" + m.Binding.HostPort + "/" + m.Port.Proto()
				if owner, taken := hostPorts[key]; taken && owner != name {
					add(name, "host port %s is already published by service %q", m.Binding.HostPort, owner)
					continue
				}
				hostPorts[key] = name
			}
		}

		for _, v := range rs.Volumes {
			if strings.TrimSpace(v) == "" || strings.HasPrefix(v, ":") {
				add(name, "invalid volume %q", v)
			}
		}
	}
	return problems
}

// validateRestart accepts the restart policies understood by both Docker
// and Podman.
func validateRestart(policy string) error {
	switch policy {
	case "", "no", "always", "unless-stopped", "on-failure":
		return nil
	}
	if count, ok := strings.CutPrefix(policy, "on-failure:"); ok {
		if n, err := strconv.Atoi(count); err == nil && n >= 0 {
			return nil
		}
	}
	return fmt.Errorf("unknown restart policy %q", policy)
}

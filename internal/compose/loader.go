package compose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/flotilla/internal/fingerprint"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// FileNames lists the specification file names searched for, in priority
// order, in each directory.
var FileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
	"compose.json",
}

// ErrNotFound is wrapped by the error Find returns when no file exists.
var ErrNotFound = errors.New("no compose file found")

// Options adjusts how a specification is turned into a Project.
type Options struct {
	// ProjectName overrides both the file's name key and the directory name.
	ProjectName string
}

// Find searches startDir and then every parent directory for one of
// FileNames and returns the absolute path of the first match.
//
// Returns a *model.SpecError wrapping ErrNotFound if the filesystem root is
// reached without a match.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &model.SpecError{
				Err: fmt.Errorf("%w in %s or any parent directory (looked for %s)",
					ErrNotFound, startDir, strings.Join(FileNames, ", ")),
			}
		}
		dir = parent
	}
}

// Load reads, validates and normalises the specification at path. The
// returned project has every relative path resolved against the file's
// directory and every service fingerprinted.
func Load(path string, opts Options) (*model.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &model.SpecError{Path: abs, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
		}
		return nil, &model.SpecError{Path: abs, Err: err}
	}

	return Parse(data, abs, opts)
}

// Parse turns file contents into a Project. path determines the working
// directory, the default project name and whether the content is JSON.
func Parse(data []byte, path string, opts Options) (*model.Project, error) {
	// JSON is a subset of YAML, so JSON files only need their comments and
	// trailing commas stripped before going through the same decoder.
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data = jsonc.ToJSON(data)
	}

	var raw rawFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &model.SpecError{Path: path, Problems: []string{"file is empty"}}
		}
		return nil, &model.SpecError{Path: path, Err: err}
	}

	workingDir := filepath.Dir(path)
	name := projectName(opts.ProjectName, raw.Name, workingDir)

	var problems []string
	if err := model.ValidateName(name); err != nil {
		problems = append(problems, fmt.Sprintf("project name: %v", err))
	}
	problems = append(problems, validate(&raw, workingDir)...)
	if len(problems) > 0 {
		return nil, &model.SpecError{Path: path, Problems: problems}
	}

	project := &model.Project{
		Name:       name,
		WorkingDir: workingDir,
		Network:    model.DefaultNetworkName(name),
		Services:   make(map[string]*model.Service, len(raw.Services)),
	}
	for svcName, rs := range raw.Services {
		project.Services[svcName] = normalise(name, svcName, rs, workingDir)
	}

	if err := fingerprint.Apply(project); err != nil {
		return nil, err
	}
	return project, nil
}

// projectName picks the first non-empty of the explicit override, the
// file's name key and the sanitised directory name.
func projectName(override, fromFile, dir string) string {
	if override != "" {
		return override
	}
	if fromFile != "" {
		return fromFile
	}
	return model.SanitizeName(filepath.Base(dir))
}

// normalise converts a validated raw service into the domain model.
func normalise(project, name string, rs *rawService, dir string) *model.Service {
	svc := &model.Service{
		Name:        name,
		Image:       rs.Image,
		Command:     []string(rs.Command),
		Environment: map[string]string(rs.Environment),
		Ports:       []string(rs.Ports),
		Labels:      map[string]string(rs.Labels),
		Restart:     rs.Restart,
		Replicas:    replicas(rs),
		DependsOn:   []string(rs.DependsOn),
	}

	if rs.Build != nil {
		dockerfile := rs.Build.Dockerfile
		if dockerfile == "" {
			dockerfile = "Dockerfile"
		}
		svc.Build = &model.BuildSpec{
			Context:    resolvePath(dir, rs.Build.Context),
			Dockerfile: dockerfile,
			Args:       map[string]string(rs.Build.Args),
			Target:     rs.Build.Target,
		}
		if svc.Image == "" {
			svc.Image = model.DefaultImageName(project, name)
		}
	}

	for _, v := range rs.Volumes {
		svc.Volumes = append(svc.Volumes, resolveVolume(dir, v))
	}
	return svc
}

// replicas returns the declared replica count, defaulting to 1.
func replicas(rs *rawService) int {
	switch {
	case rs.Replicas != nil:
		return *rs.Replicas
	case rs.Deploy != nil && rs.Deploy.Replicas != nil:
		return *rs.Deploy.Replicas
	default:
		return 1
	}
}

// resolvePath makes p absolute relative to dir, expanding a leading "~".
func resolvePath(dir, p string) string {
	if p == "" {
		return dir
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

// resolveVolume resolves the source of a bind mount. Named volumes and
// anonymous volumes are returned unchanged.
func resolveVolume(dir, spec string) string {
	source, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return spec
	}
	if strings.HasPrefix(source, ".") || strings.HasPrefix(source, "~") {
		return resolvePath(dir, source) + ":" + rest
	}
	return spec
}

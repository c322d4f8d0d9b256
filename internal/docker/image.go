package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/moby/term"

	"github.com/mmr-tortoise/flotilla/internal/runtime"
)

// BuildImage builds req.Build from its local context and tags the result
// as req.Image. The context honours .dockerignore.
func (c *Client) BuildImage(ctx context.Context, req runtime.BuildRequest) (string, error) {
	buildCtx, err := buildContext(req.Build.Context, req.Build.Dockerfile)
	if err != nil {
		return "", err
	}
	defer buildCtx.Close()

	args := make(map[string]*string, len(req.Build.Args))
	for k, v := range req.Build.Args {
		v := v
		args[k] = &v
	}

	resp, err := c.inner.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{req.Image},
		Dockerfile:  req.Build.Dockerfile,
		BuildArgs:   args,
		Target:      req.Build.Target,
		NoCache:     req.NoCache,
		PullParent:  req.Pull,
		Remove:      true,
		ForceRemove: true,
		Labels:      req.Labels,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", req.Image, err)
	}
	defer resp.Body.Close()

	if err := c.displayStream(resp.Body, req.Progress); err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", req.Image, err)
	}
	return req.Image, nil
}

// buildContext tars dir, skipping .dockerignore matches. The Dockerfile
// and .dockerignore are always sent, even when ignored.
func buildContext(dir, dockerfile string) (io.ReadCloser, error) {
	excludes, err := readDockerignore(dir)
	if err != nil {
		return nil, err
	}
	if len(excludes) > 0 {
		excludes = append(excludes, "!"+filepath.ToSlash(dockerfile), "!.dockerignore")
	}

	rc, err := archive.TarWithOptions(dir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context from %s: %w", dir, err)
	}
	return rc, nil
}

func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.Name(), err)
	}
	return patterns, nil
}

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.inner.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
}

// PullImage pulls ref from its registry.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	if err := c.displayStream(rc, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// displayStream renders a daemon progress stream. Errors reported inside
// the stream are returned.
func (c *Client) displayStream(in io.Reader, out io.Writer) error {
	if out == nil {
		out = c.progress
	}
	fd, isTerm := term.GetFdInfo(out)
	return jsonmessage.DisplayJSONMessagesStream(in, out, fd, isTerm, nil)
}

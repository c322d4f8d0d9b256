package scheduler

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/report"
	rt "github.com/mmr-tortoise/flotilla/internal/runtime"
)

// PullPolicy decides when images of image-only services are pulled.
type PullPolicy string

const (
	// PullMissing pulls only images that are not present locally.
	PullMissing PullPolicy = "missing"

	// PullAlways pulls every image before the run.
	PullAlways PullPolicy = "always"

	// PullNever fails services whose image is not present locally.
	PullNever PullPolicy = "never"
)

// ParsePullPolicy validates a policy name. The empty string means PullMissing.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch PullPolicy(s) {
	case "", PullMissing:
		return PullMissing, nil
	case PullAlways, PullNever:
		return PullPolicy(s), nil
	}
	return "", fmt.Errorf("invalid pull policy %q: must be one of missing, always, never", s)
}

// ImageOptions controls image preparation.
type ImageOptions struct {
	// Build forces a rebuild of every built service, even when its image
	// already exists.
	Build bool

	Pull PullPolicy

	// PullBase asks the builder to refresh base images.
	PullBase bool

	NoCache bool

	// Progress receives build and pull output. Nil discards it.
	Progress io.Writer
}

// imageJob is one image to prepare, shared by every service referencing it.
type imageJob struct {
	ref      string
	services []string
	build    *model.Service
}

// imageJobs collects the images needed by services, deduplicated by
// reference. A reference built by one service and pulled by another is
// built.
func imageJobs(project *model.Project, services []string) []*imageJob {
	byRef := map[string]*imageJob{}
	for _, name := range services {
		svc := project.Service(name)
		if svc == nil {
			continue
		}
		job, ok := byRef[svc.Image]
		if !ok {
			job = &imageJob{ref: svc.Image}
			byRef[svc.Image] = job
		}
		job.services = append(job.services, name)
		if svc.Build != nil && job.build == nil {
			job.build = svc
		}
	}

	jobs := make([]*imageJob, 0, len(byRef))
	for _, j := range byRef {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ref < jobs[k].ref })
	return jobs
}

// ImageServices returns the services whose image is needed by plan: every
// service with a create, recreate or start action. For the build command
// every service with a build spec is returned.
func ImageServices(project *model.Project, actions []model.Action, cmd model.Command) []string {
	seen := map[string]bool{}
	var out []string
	if cmd == model.CommandBuild {
		for _, name := range project.ServiceNames() {
			if project.Services[name].Build != nil {
				out = append(out, name)
			}
		}
		return out
	}
	for _, a := range actions {
		if a.Orphan || !needsImage(a.Kind) || seen[a.Slot.Service] {
			continue
		}
		seen[a.Slot.Service] = true
		out = append(out, a.Slot.Service)
	}
	sort.Strings(out)
	return out
}

// PrepareImages builds or pulls the images of services before any
// container is created. Each image is handled once, on the same bounded
// pool the executor uses. It returns one result per image that needed
// work and the services whose image could not be prepared.
func (e *Executor) PrepareImages(ctx context.Context, project *model.Project, services []string, opts ImageOptions) ([]report.ImageResult, map[string]error) {
	if opts.Pull == "" {
		opts.Pull = PullMissing
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}

	jobs := imageJobs(project, services)
	results := make([]*report.ImageResult, len(jobs))
	failures := map[string]error{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Parallelism)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := e.prepare(context.WithoutCancel(ctx), project, job, opts)
			if res == nil {
				return nil
			}
			results[i] = res
			if res.Err != nil {
				mu.Lock()
				for _, svc := range job.services {
					failures[svc] = res.Err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]report.ImageResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, failures
}

// prepare handles one image. It returns nil when the image is already
// present and nothing had to be done.
func (e *Executor) prepare(ctx context.Context, project *model.Project, job *imageJob, opts ImageOptions) *report.ImageResult {
	log := e.log.With(logger.F("image", job.ref))
	start := time.Now()
	res := &report.ImageResult{Image: job.ref, Services: job.services}

	finish := func(err error) *report.ImageResult {
		res.Duration = time.Since(start)
		if err != nil {
			res.Outcome = model.OutcomeFailed
			res.SetErr(fmt.Errorf("%s %s: %w", res.Kind, job.ref, err))
			log.Error("image preparation failed", logger.F("error", err.Error()))
			return res
		}
		res.Outcome = model.OutcomeSucceeded
		log.Info(fmt.Sprintf("%s %s done", res.Kind.Verb(), job.ref), logger.F("duration", res.Duration.Round(time.Millisecond)))
		return res
	}

	if job.build != nil {
		res.Kind = model.ActionBuild
		if !opts.Build {
			exists, err := e.rt.ImageExists(ctx, job.ref)
			if err != nil {
				return finish(err)
			}
			if exists {
				log.Debug("image present, skipping build")
				return nil
			}
		}
		log.Info("building image", logger.F("context", job.build.Build.Context))
		_, err := e.rt.BuildImage(ctx, rt.BuildRequest{
			Service:  job.build.Name,
			Image:    job.ref,
			Build:    *job.build.Build,
			Pull:     opts.PullBase,
			NoCache:  opts.NoCache,
			Labels:   map[string]string{label.Project: project.Name, label.Service: job.build.Name},
			Progress: opts.Progress,
		})
		return finish(err)
	}

	res.Kind = model.ActionPull
	if opts.Pull != PullAlways {
		exists, err := e.rt.ImageExists(ctx, job.ref)
		if err != nil {
			return finish(err)
		}
		if exists {
			return nil
		}
		if opts.Pull == PullNever {
			return finish(fmt.Errorf("image not present locally and pull policy is %s", PullNever))
		}
	}
	log.Info("pulling image")
	return finish(e.rt.PullImage(ctx, job.ref))
}

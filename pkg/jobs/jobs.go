// Package jobs runs prompts defined in YAML files, either on demand or on a
// fixed interval. Each job run is one independent invocation.
package jobs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jxucoder/bedrockcall/pkg/model"
)

// Runner performs a single invocation.
type Runner interface {
	Run(ctx context.Context, source, prompt string) (*model.Invocation, error)
}

// Job defines a prompt from a YAML file.
//
//	name: gold
//	prompt: "I need a few sentences on why gold is the best color."
//	every: 1h
//
// prompt_file may replace prompt; relative paths resolve against the jobs
// directory.
type Job struct {
	Name       string        `yaml:"name"`
	Prompt     string        `yaml:"prompt"`
	PromptFile string        `yaml:"prompt_file"`
	Every      time.Duration `yaml:"every"`
}

// Source is the invocation source recorded for the job.
func (j Job) Source() string { return "job:" + j.Name }

// Scheduler loads jobs and triggers invocations.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	runner  Runner
	jobsDir string
}

// New creates a new Scheduler that reads jobs from the given directory.
func New(jobsDir string, runner Runner) *Scheduler {
	return &Scheduler{
		jobsDir: jobsDir,
		runner:  runner,
	}
}

// LoadJobs reads all .yaml files from the jobs directory. A missing
// directory yields no jobs.
func (s *Scheduler) LoadJobs() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = nil

	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading jobs directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		job, err := parseJobFile(filepath.Join(s.jobsDir, name))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		if job.Name == "" {
			job.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if job.PromptFile != "" && !filepath.IsAbs(job.PromptFile) {
			job.PromptFile = filepath.Join(s.jobsDir, job.PromptFile)
		}
		s.jobs = append(s.jobs, *job)
	}

	sort.Slice(s.jobs, func(i, j int) bool { return s.jobs[i].Name < s.jobs[j].Name })
	return nil
}

// Jobs returns a copy of the loaded jobs, sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Job, len(s.jobs))
	copy(cp, s.jobs)
	return cp
}

// Find returns the loaded job with the given name.
func (s *Scheduler) Find(name string) (Job, bool) {
	for _, job := range s.Jobs() {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

// RunJob executes a single job once.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (*model.Invocation, error) {
	prompt, err := job.prompt()
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, job.Source(), prompt)
}

// Start runs every job with a positive interval on its own ticker until
// ctx is canceled, then waits for runs in flight. Runs of the same job
// never overlap.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.Jobs() {
		if job.Every <= 0 {
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
		log.Printf("Job %s scheduled every %s", job.Name, job.Every)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := s.RunJob(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.Name, err)
			}
		}
	}
}

func (j Job) prompt() (string, error) {
	if j.PromptFile == "" {
		return j.Prompt, nil
	}
	data, err := os.ReadFile(j.PromptFile)
	if err != nil {
		return "", fmt.Errorf("reading prompt file for job %s: %w", j.Name, err)
	}
	return string(data), nil
}

func parseJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if job.Prompt == "" && job.PromptFile == "" {
		return nil, fmt.Errorf("prompt or prompt_file is required")
	}
	if job.Prompt != "" && job.PromptFile != "" {
		return nil, fmt.Errorf("prompt and prompt_file are mutually exclusive")
	}
	if job.Every < 0 {
		return nil, fmt.Errorf("every must not be negative")
	}

	return &job, nil
}

// Package container runs conversion engines that ship as container images.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const (
	binDocker = "docker"
	binPodman = "podman"

	// stderrLimit bounds how much of a failing container's stderr ends up in errors.
	stderrLimit = 2048
)

// Runtime is a docker-compatible container CLI.
type Runtime interface {
	Name() string
	Available(ctx context.Context) bool
	ImageExists(ctx context.Context, image string) error
	// Run starts image with stdin attached, copies its stdout into stdout and
	// removes the container afterwards.
	Run(ctx context.Context, spec RunSpec, stdin io.Reader, stdout io.Writer) error
}

type RunSpec struct {
	Image string
	Args  []string
	// Env is passed with -e NAME so values never appear on the command line.
	Env     map[string]string
	Network string
}

type executor interface {
	LookPath(file string) (string, error)
	RunSilent(ctx context.Context, name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, env []string, stdin io.Reader, stdout, stderr io.Writer) error
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) RunSilent(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (osExecutor) RunPiped(ctx context.Context, name string, args []string, env []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

type runtime struct {
	bin           string
	imageCheckCmd []string
	exec          executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(ctx, r.bin, "info") == nil
}

func (r *runtime) ImageExists(ctx context.Context, image string) error {
	args := make([]string, 0, len(r.imageCheckCmd)+1)
	args = append(args, r.imageCheckCmd...)
	args = append(args, image)

	if err := r.exec.RunSilent(ctx, r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func (r *runtime) Run(ctx context.Context, spec RunSpec, stdin io.Reader, stdout io.Writer) error {
	args, env := r.runArgs(spec)
	stderr := &limitedBuffer{limit: stderrLimit}
	if err := r.exec.RunPiped(ctx, r.bin, args, env, stdin, stdout, stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("running %s container %s: %w", r.bin, spec.Image, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("running %s container %s: %w: %s", r.bin, spec.Image, err, msg)
		}
		return fmt.Errorf("running %s container %s: %w", r.bin, spec.Image, err)
	}
	return nil
}

func (r *runtime) runArgs(spec RunSpec) ([]string, []string) {
	args := []string{"run", "--rm", "-i"}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	var env []string
	for name, value := range spec.Env {
		args = append(args, "-e", name)
		env = append(env, name+"="+value)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Args...)
	return args, env
}

func newDockerRuntime(exec executor) *runtime {
	return &runtime{bin: binDocker, imageCheckCmd: []string{"image", "inspect"}, exec: exec}
}

func newPodmanRuntime(exec executor) *runtime {
	return &runtime{bin: binPodman, imageCheckCmd: []string{"image", "exists"}, exec: exec}
}

// DetectRuntime returns the runtime named by preference ("docker" or
// "podman"), or the first operational one when preference is empty or "auto".
func DetectRuntime(ctx context.Context, preference string) (Runtime, error) {
	return detectRuntime(ctx, osExecutor{}, preference)
}

func detectRuntime(ctx context.Context, exec executor, preference string) (Runtime, error) {
	candidates := []*runtime{newDockerRuntime(exec), newPodmanRuntime(exec)}
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "", "auto":
	case binDocker:
		candidates = candidates[:1]
	case binPodman:
		candidates = candidates[1:]
	default:
		return nil, fmt.Errorf("unknown container runtime %q", preference)
	}

	for _, rt := range candidates {
		if rt.Available(ctx) {
			return rt, nil
		}
	}
	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}

type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/tomd/internal/bootstrap"
	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
	"github.com/kirillkom/tomd/internal/observability/logging"
)

const pollInterval = 100 * time.Millisecond

func newConvertCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert FILE...",
		Short: "Convert files to Markdown",
		Long: `Convert writes <name>.md for every input file, next to the input or into
--output-dir. The engine is picked per extension with --converter auto, or
forced with an engine id (see "tomd converters").`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), v, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String("converter", string(domain.ConverterAuto), "engine id or auto")
	flags.String("output-dir", "", "directory for the .md files (default: next to each input)")
	flags.Int("workers", 4, "number of files converted in parallel")
	flags.Duration("timeout", 5*time.Minute, "per-file conversion timeout")
	flags.String("api-key", "", "API key for engines backed by external APIs")
	flags.String("base-url", "", "base URL for the external API")
	flags.String("container-runtime", "auto", "container runtime for container engines: auto, docker, podman or none")
	flags.String("docling-url", "", "docling-serve base URL")
	flags.String("unstructured-url", "", "Unstructured API base URL")
	flags.String("pandoc-path", "pandoc", "pandoc binary")
	return cmd
}

// cliConfig starts from the service environment and applies the CLI settings.
// The CLI always runs on in-memory state and a throwaway storage directory.
func cliConfig(v *viper.Viper, storageDir string) config.Config {
	cfg := config.Load()
	cfg.JobStore = bootstrap.BackendMemory
	cfg.QueueBackend = bootstrap.BackendInProcess
	cfg.StorageBackend = bootstrap.BackendLocalFS
	cfg.StoragePath = storageDir
	cfg.RedisAddr = ""

	if workers := v.GetInt("workers"); workers > 0 {
		cfg.WorkerCount = workers
	}
	if timeout := v.GetDuration("timeout"); timeout > 0 {
		cfg.JobTimeout = timeout
	}
	overrideString(&cfg.OpenAIAPIKey, v.GetString("api-key"))
	overrideString(&cfg.OpenAIBaseURL, v.GetString("base-url"))
	overrideString(&cfg.ContainerRuntime, v.GetString("container-runtime"))
	overrideString(&cfg.DoclingURL, v.GetString("docling-url"))
	overrideString(&cfg.UnstructuredURL, v.GetString("unstructured-url"))
	overrideString(&cfg.PandocPath, v.GetString("pandoc-path"))
	return cfg
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func runConvert(ctx context.Context, v *viper.Viper, paths []string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	storageDir, err := os.MkdirTemp("", "tomd-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(storageDir)

	cfg := cliConfig(v, storageDir)
	logger := logging.NewJSONLoggerTo(stderr, "tomd-cli", v.GetString("log-level"), cfg.Debug)

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer app.Close()
	app.RunWorkers(ctx)

	files, err := app.Files.Upload(ctx, localFiles(paths))
	if err != nil {
		return err
	}
	ids := make([]string, len(files))
	for i, file := range files {
		ids[i] = file.ID
	}

	jobs, err := app.Dispatcher.Start(ctx, ports.StartRequest{
		FileIDs:   ids,
		Converter: domain.ConverterID(v.GetString("converter")),
	})
	if err != nil {
		return err
	}

	finished, err := waitForJobs(ctx, app.Jobs, jobs)
	if err != nil {
		return err
	}

	outputDir := v.GetString("output-dir")
	failed := 0
	for i, job := range finished {
		source := paths[i]
		if job.Status != domain.JobCompleted {
			failed++
			fmt.Fprintf(stdout, "%s: failed (%s): %s\n", source, job.Engine, job.Error)
			continue
		}
		dir := outputDir
		if dir == "" {
			dir = filepath.Dir(source)
		}
		target, err := writeOutput(ctx, app.Jobs, job, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s -> %s (%s, %s)\n", source, target, job.Engine, processingTime(job))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(finished))
	}
	return nil
}

func localFiles(paths []string) iter.Seq2[ports.UploadPart, error] {
	return func(yield func(ports.UploadPart, error) bool) {
		for _, path := range paths {
			f, err := os.Open(path)
			if err != nil {
				yield(ports.UploadPart{}, domain.WrapError(domain.ErrInvalidInput, "open input", err))
				return
			}
			more := yield(ports.UploadPart{Name: filepath.Base(path), Body: f}, nil)
			_ = f.Close()
			if !more {
				return
			}
		}
	}
}

// waitForJobs polls until every job is terminal and returns them in input order.
func waitForJobs(ctx context.Context, jobs ports.JobService, started []domain.Job) ([]domain.Job, error) {
	out := make([]domain.Job, len(started))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done := 0
		for i, job := range started {
			if out[i].Status.Terminal() {
				done++
				continue
			}
			current, err := jobs.Get(ctx, job.ID)
			if err != nil {
				return nil, err
			}
			out[i] = *current
			if current.Status.Terminal() {
				done++
			}
		}
		if done == len(started) {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeOutput(ctx context.Context, jobs ports.JobService, job domain.Job, dir string) (string, error) {
	name, body, err := jobs.Download(ctx, job.ID)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	target := filepath.Join(dir, name)
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	return target, nil
}

func processingTime(job domain.Job) string {
	if job.ProcessingTime == nil {
		return "-"
	}
	return time.Duration(*job.ProcessingTime * float64(time.Second)).Round(time.Millisecond).String()
}

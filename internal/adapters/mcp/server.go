// Package mcpadapter exposes the conversion service as MCP tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

const serverName = "tomd"

type Dependencies struct {
	Files   ports.FileService
	Starter ports.ConversionStarter
	Jobs    ports.JobService
	Catalog ports.ConverterCatalog
}

type Tools struct {
	files   ports.FileService
	starter ports.ConversionStarter
	jobs    ports.JobService
	catalog ports.ConverterCatalog
}

func NewTools(deps Dependencies) *Tools {
	return &Tools{
		files:   deps.Files,
		starter: deps.Starter,
		jobs:    deps.Jobs,
		catalog: deps.Catalog,
	}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(deps Dependencies, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	NewTools(deps).Register(s)
	return s
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_converters",
		mcp.WithDescription("List the available conversion engines with their supported extensions."),
	), t.listConverters)

	s.AddTool(mcp.NewTool("upload_file",
		mcp.WithDescription("Upload a local file so it can be converted to Markdown."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute or working-directory relative path of the file."),
		),
	), t.uploadFile)

	s.AddTool(mcp.NewTool("start_conversion",
		mcp.WithDescription("Create one conversion job per uploaded file. Jobs start in pending state."),
		mcp.WithArray("file_ids",
			mcp.Required(),
			mcp.Description("Ids returned by upload_file."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("converter",
			mcp.Description("Engine id, \"auto\" (default) or \"custom\"."),
		),
		mcp.WithObject("overrides",
			mcp.Description("Extension to engine id map used when converter is \"custom\"."),
		),
	), t.startConversion)

	s.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get the state of one conversion job."),
		mcp.WithString("job_id", mcp.Required()),
	), t.getJob)

	s.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List conversion jobs, newest first."),
		mcp.WithString("status",
			mcp.Description("Only return jobs in this state."),
			mcp.Enum(string(domain.JobPending), string(domain.JobProcessing), string(domain.JobCompleted), string(domain.JobFailed)),
		),
	), t.listJobs)

	s.AddTool(mcp.NewTool("preview_job",
		mcp.WithDescription("Return the leading part of a completed job's Markdown output."),
		mcp.WithString("job_id", mcp.Required()),
	), t.previewJob)
}

func (t *Tools) listConverters(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.catalog.List())
}

func (t *Tools) uploadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open %s: %v", path, err)), nil
	}
	defer f.Close()

	part := ports.UploadPart{Name: filepath.Base(path), Body: f}
	files, err := t.files.Upload(ctx, singlePart(part))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(files[0])
}

func singlePart(part ports.UploadPart) iter.Seq2[ports.UploadPart, error] {
	return func(yield func(ports.UploadPart, error) bool) {
		yield(part, nil)
	}
}

func (t *Tools) startConversion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := req.RequireStringSlice("file_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start := ports.StartRequest{
		FileIDs:   ids,
		Converter: domain.ConverterID(req.GetString("converter", string(domain.ConverterAuto))),
	}
	if raw, ok := req.GetArguments()["overrides"].(map[string]any); ok {
		start.Overrides = make(map[string]domain.ConverterID, len(raw))
		for ext, id := range raw {
			value, ok := id.(string)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("override for %q must be a string", ext)), nil
			}
			start.Overrides[ext] = domain.ConverterID(value)
		}
	}

	jobs, err := t.starter.Start(ctx, start)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(jobs)
}

func (t *Tools) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := t.jobs.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(job)
}

func (t *Tools) listJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := t.jobs.List(ctx)
	if err != nil {
		return toolError(err), nil
	}
	status := domain.JobStatus(strings.ToLower(req.GetString("status", "")))
	if status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Status == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return jsonResult(jobs)
}

func (t *Tools) previewJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	preview, err := t.jobs.Preview(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	text := preview.Content
	if preview.Truncated {
		text += fmt.Sprintf("\n\n[preview truncated, %d bytes total]", preview.TotalLength)
	}
	return mcp.NewToolResultText(text), nil
}

// toolError reports use case failures in the tool result so the model sees
// them. Protocol errors are reserved for transport problems.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

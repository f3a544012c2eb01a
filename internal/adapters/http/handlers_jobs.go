package httpadapter

import (
	"io"
	"mime"
	"net/http"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

const archiveFilename = "tomd-export.zip"

type jobIDsRequest struct {
	JobIDs []string `json:"job_ids"`
}

func (rt *Router) startConversion(w http.ResponseWriter, r *http.Request) {
	var req ports.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Converter == "" {
		req.Converter = domain.ConverterAuto
	}

	jobs, err := rt.starter.Start(r.Context(), req)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordJobsSubmitted(serviceName, string(req.Converter), len(jobs))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := rt.jobs.List(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := rt.jobs.Get(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := rt.jobs.Delete(r.Context(), id); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) deleteJobs(w http.ResponseWriter, r *http.Request) {
	var req jobIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := rt.jobs.DeleteMany(r.Context(), req.JobIDs)
	if result.Deleted == nil {
		result.Deleted = []string{}
	}
	if result.Failed == nil {
		result.Failed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":       result.Deleted,
		"failed":        result.Failed,
		"deleted_count": len(result.Deleted),
		"failed_count":  len(result.Failed),
	})
}

func (rt *Router) previewJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	preview, err := rt.jobs.Preview(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (rt *Router) downloadJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filename, body, err := rt.jobs.Download(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", attachmentDisposition(filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		rt.logger.Warn("download_interrupted", "job_id", id, "error", err)
	}
}

func (rt *Router) downloadJobs(w http.ResponseWriter, r *http.Request) {
	var req jobIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := &attachmentWriter{
		w:           w,
		contentType: "application/zip",
		filename:    archiveFilename,
	}
	entries, err := rt.jobs.Archive(r.Context(), req.JobIDs, out)
	if err != nil {
		if !out.started {
			rt.writeDomainError(w, r, err)
			return
		}
		rt.logger.Error("archive_interrupted",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordArchive(serviceName, entries)
	}
}

// attachmentWriter defers the 200 status and attachment headers until the
// first byte is written, so an error found before that can still be reported
// with its own status.
type attachmentWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		headers := a.w.Header()
		headers.Set("Content-Type", a.contentType)
		headers.Set("Content-Disposition", attachmentDisposition(a.filename))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

func attachmentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

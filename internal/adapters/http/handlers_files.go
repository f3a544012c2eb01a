package httpadapter

import (
	"errors"
	"io"
	"iter"
	"mime/multipart"
	"net/http"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

func (rt *Router) listConverters(w http.ResponseWriter, _ *http.Request) {
	converters := rt.catalog.List()
	if converters == nil {
		converters = []domain.ConverterDescriptor{}
	}
	writeJSON(w, http.StatusOK, converters)
}

func (rt *Router) uploadFiles(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart/form-data body with field 'files' is required")
		return
	}

	files, err := rt.files.Upload(r.Context(), multipartFiles(reader))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		for _, file := range files {
			rt.metrics.RecordUpload(serviceName, file.Extension, file.Size)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"files": files,
		"count": len(files),
	})
}

// multipartFiles yields the file parts named "files" or "file" in request
// order. Each part is only readable until the consumer asks for the next one.
func multipartFiles(reader *multipart.Reader) iter.Seq2[ports.UploadPart, error] {
	return func(yield func(ports.UploadPart, error) bool) {
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(ports.UploadPart{}, domain.WrapError(domain.ErrInvalidInput, "read multipart body", err))
				return
			}

			field := part.FormName()
			if (field != "files" && field != "file") || part.FileName() == "" {
				_ = part.Close()
				continue
			}

			more := yield(ports.UploadPart{
				Name:     part.FileName(),
				MimeType: part.Header.Get("Content-Type"),
				Body:     part,
			}, nil)
			_ = part.Close()
			if !more {
				return
			}
		}
	}
}

func (rt *Router) getFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, err := rt.files.Get(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (rt *Router) removeFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := rt.files.Remove(r.Context(), id); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

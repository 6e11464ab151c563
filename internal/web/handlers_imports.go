package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/source"
)

// multipartOverhead is allowed on top of the file size limit for the
// multipart envelope and the other form fields.
const multipartOverhead = 1 << 20

var errS3Disabled = errors.New("s3 imports are not configured")

// handleStartImport reads the uploaded file, or the S3 object named by the
// "location" field, and starts importing it. Responds 202 with the job id.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if _, ok := core.Get(kind); !ok {
		fail(w, r, fmt.Errorf("%w: %s", core.ErrUnknownKind, kind))
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, source.ErrFileTooLarge)
			return
		}
		fail(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts := source.Options{
		Charset:  r.FormValue("charset"),
		Sheet:    r.FormValue("sheet"),
		MaxRows:  s.service.MaxRows(),
		MaxBytes: maxSize,
	}

	var (
		table    importer.Table
		fileName string
		err      error
	)
	if location := r.FormValue("location"); location != "" {
		if s.s3 == nil {
			respondError(w, r, errS3Disabled, http.StatusBadRequest)
			return
		}
		table, fileName, err = s.s3.ReadS3(r.Context(), location, opts)
	} else {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			fail(w, r, core.ErrNoFile)
			return
		}
		defer file.Close()
		fileName = header.Filename
		table, err = source.Read(r.Context(), fileName, file, opts)
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	importID, err := s.service.StartImport(withRequestMetadata(r.Context(), r), kind, fileName, table)
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// handleImportProgress streams progress as Server-Sent Events until the job
// ends. The event id is the progress percentage; a reconnecting client
// sending Last-Event-ID skips updates it has already seen.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	updates, err := s.service.SubscribeProgress(importID)
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}

			eventID := int(p.Percent)
			if eventID <= lastEventID && !p.Phase.Done() {
				continue
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetImportProgress(chi.URLParam(r, "importID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleImportResult returns the result of a finished job. A running job
// answers 202 with its progress, unless ?wait=true blocks until it ends.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progress, err := s.service.GetImportProgress(importID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !progress.Phase.Done() && r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, progress)
		return
	}

	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListImports())
}

func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleExportFailedRows writes the failed rows of a finished job in the
// upload layout plus an errors column, so the file can be fixed and sent
// again. ?format=xlsx returns a workbook, CSV otherwise.
func (s *Server) handleExportFailedRows(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progress, err := s.service.GetImportProgress(importID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !progress.Phase.Done() {
		respondError(w, r, core.ErrImportRunning, http.StatusConflict)
		return
	}
	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil {
		fail(w, r, err)
		return
	}
	def, ok := core.Get(result.Kind)
	if !ok {
		fail(w, r, core.ErrUnknownKind)
		return
	}

	const errorsHeader = "Errors"
	base := "failed_rows_" + strings.TrimSuffix(result.FileName, filepath.Ext(result.FileName))

	if r.URL.Query().Get("format") == "xlsx" {
		rows := make([]source.FailedRow, len(result.FailedRows))
		for i, fr := range result.FailedRows {
			rows[i] = source.FailedRow{Cells: fr.Data, Errors: rowErrors(fr)}
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, base))
		if err := source.WriteFailedRows(w, def.Columns, errorsHeader, rows); err != nil {
			logRequestError(r, "write failed rows", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, base))

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(def.Columns)+1)
	for _, col := range def.Columns {
		header = append(header, col.Name)
	}
	cw.Write(append(header, errorsHeader))
	for _, fr := range result.FailedRows {
		record := make([]string, len(def.Columns), len(def.Columns)+1)
		copy(record, fr.Data)
		for i, v := range record {
			record[i] = source.EscapeFormula(v)
		}
		cw.Write(append(record, source.EscapeFormula(strings.Join(rowErrors(fr), "; "))))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logRequestError(r, "write failed rows", err)
	}
}

func rowErrors(fr core.FailedRow) []string {
	if len(fr.Errors) > 0 {
		return fr.Errors
	}
	if fr.Reason != "" {
		return []string{fr.Reason}
	}
	return nil
}

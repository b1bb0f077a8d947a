package mock

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/hello-sally/jobwatch/internal/job"
)

const naiveISO = "2006-01-02T15:04:05.000000"

type audioFileJSON struct {
	ID          job.ID     `json:"id"`
	ReportID    job.ID     `json:"report_id"`
	STTStatus   job.Status `json:"stt_status"`
	DisplayName string     `json:"display_name"`
	Filename    string     `json:"filename"`
}

type reportJSON struct {
	ID         job.ID           `json:"id"`
	Title      string           `json:"title"`
	Status     job.ReportStatus `json:"status"`
	AudioFiles []audioFileJSON  `json:"audio_files"`
}

// Handler serves the report service routes the watcher depends on.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /reports/{id}", s.handleReport)
	mux.HandleFunc("GET /reports/{id}/analysis-status", s.handleAnalysisStatus)
	mux.HandleFunc("GET /reports/{id}/ai-analysis/latest", s.handleLatest)
	mux.HandleFunc("POST /reports/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /audio-files/{id}/transcribe", s.handleTranscribe)
	return s.countRequests(mux)
}

func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requested++
		fail := s.failNext > 0
		if fail {
			s.failNext--
		}
		s.mu.Unlock()
		if fail {
			writeDetail(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) lookup(w http.ResponseWriter, r *http.Request) (*report, bool) {
	rep, ok := s.reports[job.ID(r.PathValue("id"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "report not found")
	}
	return rep, ok
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	out := reportJSON{ID: rep.id, Title: rep.title, Status: rep.status, AudioFiles: []audioFileJSON{}}
	for _, f := range rep.files {
		out.AudioFiles = append(out.AudioFiles, audioFileJSON{
			ID:          f.id,
			ReportID:    rep.id,
			STTStatus:   f.status,
			DisplayName: f.name,
			Filename:    f.filename,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var latest *string
	if n := len(rep.analyses); n > 0 {
		ts := rep.analyses[n-1].generatedAt.Format(naiveISO)
		latest = &ts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report_status":   rep.status,
		"has_analysis":    len(rep.analyses) > 0,
		"latest_analysis": latest,
		"analysis_count":  len(rep.analyses),
	})
}

func (s *Service) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if len(rep.analyses) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"report_id":     rep.id,
			"has_analysis":  false,
			"analysis_data": nil,
		})
		return
	}
	a := rep.analyses[len(rep.analyses)-1]
	writeJSON(w, http.StatusOK, map[string]any{
		"report_id":     rep.id,
		"has_analysis":  true,
		"analysis_data": a.data,
		"generated_at":  a.generatedAt.Format(naiveISO),
		"ai_prompt_id":  a.promptID,
	})
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fail bool `json:"fail"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	id := job.ID(r.PathValue("id"))
	if err := s.Analyze(id, body.Fail); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"report_id": id, "status": job.ReportAnalyzing})
}

func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	id := job.ID(r.PathValue("id"))
	if err := s.Transcribe(id); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "stt_status": job.Pending})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

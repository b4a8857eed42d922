package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/resume"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
)

type jobItem struct {
	ID          int64
	Title       string
	Company     string
	Status      string
	StatusLabel string

	Active bool
}

type jobDetail struct {
	ID          int64
	Title       string
	Company     string
	JobURL      string
	Salary      string
	Status      string
	StatusLabel string
	Content     template.HTML
	Source      string
}

type statusOption struct {
	Value string
	Label string
}

type resumeItem struct {
	ID      int64
	Title   string
	Version int

	Active bool
}

type exportOption struct {
	Format string
	Label  string
}

type resumePanel struct {
	JobID   int64
	ID      int64
	Title   string
	Version int
	Content template.HTML
	Source  string
	Exports []exportOption
}

type homePageData struct {
	Jobs       []jobItem
	Statuses   []statusOption
	CurrentJob *jobDetail
	Messages   []message
	Resumes    []resumeItem
	Resume     *resumePanel
	Guide      *guidePanel
	Background string
	Provider   string
	Busy       bool
}

const maxUploadSize = 10 << 20

var exportOptions = []exportOption{
	{Format: string(services.ExportPDF), Label: "PDF"},
	{Format: string(services.ExportWord), Label: "Word"},
	{Format: string(services.ExportMarkdown), Label: "Markdown"},
	{Format: string(services.ExportPDFPreview), Label: "PDF 预览"},
}

// HandleHome renders the main page: the job list, the selected job with its conversation, and the
// resume the conversation is working on.
//
// The "job_id" query parameter selects the job; without it the last selected job is shown. The
// "resume_id" query parameter attaches one of the job's resumes to the conversation, so the next
// reply updates that resume. A conversation without a resume adopts the job's first resume.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()

	jobs, err := m.backend.Jobs(ctx)
	if err != nil {
		m.logger.Error("Failed to get jobs", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	data := homePageData{
		Statuses: statusOptions(),
	}

	if p, err := m.backend.CurrentProvider(ctx); err != nil {
		m.logger.Warn("Failed to get current provider", slog.String(errLoggerKey, err.Error()))
	} else {
		data.Provider = fmt.Sprintf("%s · %s", p.ProviderName, p.ModelName)
	}

	data.Background, err = m.store.Preference(ctx, services.PreferenceBackground)
	if err != nil {
		m.logger.Warn("Failed to get user background", slog.String(errLoggerKey, err.Error()))
	}

	jobID := m.selectedJobID(r, jobs)
	for _, job := range jobs {
		data.Jobs = append(data.Jobs, jobItem{
			ID:          job.ID,
			Title:       job.Title,
			Company:     job.Company,
			Status:      string(job.Status),
			StatusLabel: job.Status.Label(),
			Active:      job.ID == jobID,
		})
		if job.ID == jobID {
			detail, err := m.jobDetail(job)
			if err != nil {
				m.logger.Error("Failed to render job", slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data.CurrentJob = &detail
		}
	}

	if data.CurrentJob != nil {
		if err := m.loadConversation(ctx, r, jobID, &data); err != nil {
			m.logger.Error("Failed to load conversation",
				slog.Int64("jobID", jobID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		guide, err := m.guidePanel(ctx, jobID)
		if err != nil {
			m.logger.Error("Failed to load interview guide",
				slog.Int64("jobID", jobID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Guide = &guide

		if err := m.store.SetPreference(ctx, services.PreferenceLastJob, strconv.FormatInt(jobID, 10)); err != nil {
			m.logger.Warn("Failed to remember selected job", slog.String(errLoggerKey, err.Error()))
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (m Main) loadConversation(ctx context.Context, r *http.Request, jobID int64, data *homePageData) error {
	conv, err := m.store.Conversation(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	resumes, err := m.backend.Resumes(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get resumes: %w", err)
	}

	// A running turn owns the conversation until it has been saved.
	if m.turns.hold(jobID) {
		defer m.turns.release(jobID)
		if next, changed := attachResume(conv, resumes, r.URL.Query().Get("resume_id")); changed {
			if err := m.store.SaveConversation(ctx, next); err != nil {
				return fmt.Errorf("failed to save conversation: %w", err)
			}
			conv = next
		}
	} else {
		data.Busy = true
	}

	for _, msg := range conv.Messages {
		view, err := m.messageView(msg, resume.SavedPlaceholder)
		if err != nil {
			return fmt.Errorf("failed to render message: %w", err)
		}
		data.Messages = append(data.Messages, view)
	}

	for _, res := range resumes {
		data.Resumes = append(data.Resumes, resumeItem{
			ID:      res.ID,
			Title:   resumeTitle(res),
			Version: res.Version,
			Active:  res.ID == conv.ResumeID,
		})
		if res.ID != conv.ResumeID {
			continue
		}
		panel, err := m.resumePanel(jobID, res)
		if err != nil {
			return err
		}
		data.Resume = &panel
	}

	return nil
}

// attachResume picks the resume the conversation works on: the requested one when it belongs to the
// job, otherwise the current one if it still exists, otherwise the job's first resume.
func attachResume(conv chat.Conversation, resumes []models.Resume, requested string) (chat.Conversation, bool) {
	exists := func(id int64) bool {
		return slices.ContainsFunc(resumes, func(res models.Resume) bool { return res.ID == id })
	}

	want := conv.ResumeID
	if id, err := strconv.ParseInt(requested, 10, 64); err == nil && exists(id) {
		want = id
	} else if want == 0 || !exists(want) {
		want = 0
		if len(resumes) > 0 {
			want = resumes[0].ID
		}
	}

	if want == conv.ResumeID {
		return conv, false
	}
	conv.ResumeID = want
	return conv, true
}

func (m Main) selectedJobID(r *http.Request, jobs []models.Job) int64 {
	exists := func(id int64) bool {
		return slices.ContainsFunc(jobs, func(job models.Job) bool { return job.ID == id })
	}

	if id, err := strconv.ParseInt(r.URL.Query().Get("job_id"), 10, 64); err == nil && exists(id) {
		return id
	}

	last, err := m.store.Preference(r.Context(), services.PreferenceLastJob)
	if err != nil {
		m.logger.Warn("Failed to get last selected job", slog.String(errLoggerKey, err.Error()))
	}
	if id, err := strconv.ParseInt(last, 10, 64); err == nil && exists(id) {
		return id
	}

	if len(jobs) > 0 {
		return jobs[0].ID
	}
	return 0
}

func (m Main) jobDetail(job models.Job) (jobDetail, error) {
	content, err := m.markdown.Render(job.Content)
	if err != nil {
		return jobDetail{}, err
	}
	return jobDetail{
		ID:          job.ID,
		Title:       job.Title,
		Company:     job.Company,
		JobURL:      job.JobURL,
		Salary:      job.Salary,
		Status:      string(job.Status),
		StatusLabel: job.Status.Label(),
		Content:     content,
		Source:      job.Content,
	}, nil
}

func (m Main) resumePanel(jobID int64, res models.Resume) (resumePanel, error) {
	source := resume.StripMarkers(res.Content)
	content, err := m.markdown.Render(source)
	if err != nil {
		return resumePanel{}, fmt.Errorf("failed to render resume %d: %w", res.ID, err)
	}
	return resumePanel{
		JobID:   jobID,
		ID:      res.ID,
		Title:   resumeTitle(res),
		Version: res.Version,
		Content: content,
		Source:  source,
		Exports: exportOptions,
	}, nil
}

func resumeTitle(res models.Resume) string {
	if res.Title == "" {
		return chat.DefaultResumeTitle
	}
	return res.Title
}

func statusOptions() []statusOption {
	statuses := models.JobStatuses()
	opts := make([]statusOption, len(statuses))
	for i, s := range statuses {
		opts[i] = statusOption{Value: string(s), Label: s.Label()}
	}
	return opts
}

// HandleJobs creates a job from the submitted form. When a "jd_file" is uploaded, the backend parses
// it first and the form fields that are filled in take precedence over the parsed ones.
func (m Main) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var req models.JobCreate

	file, header, err := r.FormFile("jd_file")
	switch {
	case err == nil:
		req, err = m.parseJob(r.Context(), file, header)
		if err != nil {
			m.logger.Error("Failed to parse job description", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		m.logger.Error("Failed to read upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	overrideField(&req.Title, r.FormValue("title"))
	overrideField(&req.Company, r.FormValue("company"))
	overrideField(&req.JobURL, r.FormValue("job_url"))
	overrideField(&req.Salary, r.FormValue("salary"))
	overrideField(&req.Content, r.FormValue("content"))

	if req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	job, err := m.backend.CreateJob(r.Context(), req)
	if err != nil {
		m.logger.Error("Failed to create job", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	m.logger.Info("Job created", slog.Int64("jobID", job.ID))
	http.Redirect(w, r, jobURL(job.ID), http.StatusSeeOther)
}

func (m Main) parseJob(ctx context.Context, file multipart.File, header *multipart.FileHeader) (models.JobCreate, error) {
	defer file.Close()
	return m.backend.ParseJob(ctx, header.Filename, file)
}

func overrideField(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// HandleJobStatus moves the job of the "job_id" form field to the "status" form field.
func (m Main) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	status := models.JobStatus(r.FormValue("status"))
	if !status.Valid() {
		http.Error(w, fmt.Sprintf("Unknown status %q", status), http.StatusBadRequest)
		return
	}

	if _, err := m.backend.UpdateJob(r.Context(), jobID, models.JobUpdate{Status: &status}); err != nil {
		m.logger.Error("Failed to update job status",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, jobURL(jobID), http.StatusSeeOther)
}

// HandleJobUpdate saves the edited description of the job of the "job_id" form field: its "title",
// "company", "job_url", "salary" and "content" fields. The title cannot be blank.
func (m Main) HandleJobUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	company := strings.TrimSpace(r.FormValue("company"))
	link := strings.TrimSpace(r.FormValue("job_url"))
	salary := strings.TrimSpace(r.FormValue("salary"))
	content := r.FormValue("content")

	req := models.JobUpdate{
		Title:   &title,
		Company: &company,
		JobURL:  &link,
		Salary:  &salary,
		Content: &content,
	}
	if _, err := m.backend.UpdateJob(r.Context(), jobID, req); err != nil {
		m.logger.Error("Failed to update job",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	m.logger.Info("Job updated", slog.Int64("jobID", jobID))
	http.Redirect(w, r, jobURL(jobID), http.StatusSeeOther)
}

// HandleJobDelete deletes the job of the "job_id" form field along with its local conversation and
// interview guide.
func (m Main) HandleJobDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	if !m.turns.hold(jobID) {
		http.Error(w, ErrTurnInFlight.Error(), http.StatusConflict)
		return
	}
	defer m.turns.release(jobID)

	if err := m.backend.DeleteJob(r.Context(), jobID); err != nil {
		m.logger.Error("Failed to delete job",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := m.store.ClearConversation(r.Context(), jobID); err != nil {
		m.logger.Warn("Failed to clear conversation of deleted job",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
	}
	if err := m.store.ClearGuide(r.Context(), jobID); err != nil {
		m.logger.Warn("Failed to clear interview guide of deleted job",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleResumeDelete deletes the resume of the "resume_id" form field. A conversation working on it
// moves on to another resume of the job the next time the page is shown.
func (m Main) HandleResumeDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	resumeID, err := strconv.ParseInt(r.FormValue("resume_id"), 10, 64)
	if err != nil || resumeID <= 0 {
		http.Error(w, "Resume is required", http.StatusBadRequest)
		return
	}
	if !m.turns.hold(jobID) {
		http.Error(w, ErrTurnInFlight.Error(), http.StatusConflict)
		return
	}
	defer m.turns.release(jobID)

	if err := m.backend.DeleteResume(r.Context(), resumeID); err != nil {
		m.logger.Error("Failed to delete resume",
			slog.Int64("resumeID", resumeID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, jobURL(jobID), http.StatusSeeOther)
}

// HandleResumeUpdate saves the edited "title" and "content" of the resume of the "resume_id" form
// field. Marker lines are removed from the content. A job answers 409 Conflict while a reply is being
// generated for it, since the reply may rewrite the same resume.
func (m Main) HandleResumeUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	resumeID, err := strconv.ParseInt(r.FormValue("resume_id"), 10, 64)
	if err != nil || resumeID <= 0 {
		http.Error(w, "Resume is required", http.StatusBadRequest)
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	content := strings.TrimSpace(resume.StripMarkers(r.FormValue("content")))
	if content == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	if !m.turns.hold(jobID) {
		http.Error(w, ErrTurnInFlight.Error(), http.StatusConflict)
		return
	}
	defer m.turns.release(jobID)

	if _, err := m.backend.UpdateResume(r.Context(), resumeID, models.ResumeUpdate{Title: &title, Content: &content}); err != nil {
		m.logger.Error("Failed to update resume",
			slog.Int64("resumeID", resumeID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s&resume_id=%d", jobURL(jobID), resumeID), http.StatusSeeOther)
}

// HandleBackground stores the user background sent with every chat request. An uploaded
// "background_file" is converted to text by the backend and replaces the "background" field.
func (m Main) HandleBackground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	background := r.FormValue("background")

	file, header, err := r.FormFile("background_file")
	switch {
	case err == nil:
		extracted, err := m.extractText(r.Context(), file, header)
		if err != nil {
			m.logger.Error("Failed to extract background", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		background = extracted.Text
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = m.store.SetPreference(r.Context(), services.PreferenceBackground, strings.TrimSpace(background))
	if err != nil {
		m.logger.Error("Failed to save background", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	redirect := "/"
	if jobID, err := strconv.ParseInt(r.FormValue("job_id"), 10, 64); err == nil && jobID > 0 {
		redirect = jobURL(jobID)
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

func (m Main) extractText(ctx context.Context, file multipart.File, header *multipart.FileHeader) (models.ExtractedFile, error) {
	defer file.Close()
	return m.backend.ExtractText(ctx, header.Filename, file)
}

// HandleExport redirects to the backend export of the "resume_id" query parameter in the "format"
// query parameter (pdf, word, markdown or pdf-preview).
func (m Main) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resumeID, err := strconv.ParseInt(r.URL.Query().Get("resume_id"), 10, 64)
	if err != nil || resumeID <= 0 {
		http.Error(w, "Resume is required", http.StatusBadRequest)
		return
	}

	target, err := m.backend.ExportURL(services.ExportFormat(r.URL.Query().Get("format")), resumeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func jobURL(jobID int64) string {
	return fmt.Sprintf("/?job_id=%d", jobID)
}

// Package notify sends job completion reports by email and webhooks
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/umputun/rootfsd/app/jobs/request"
)

//go:generate moq -out mocks/sender.go -pkg mocks -skip-ensure -fmt goimports . Sender

// Sender delivers text to a destination, implemented by go-pkgz/notify senders
type Sender interface {
	Schema() string
	Send(ctx context.Context, destination, text string) error
}

// Params controls what is reported and how
type Params struct {
	EnabledError       bool
	EnabledCompletion  bool
	ErrorTemplate      string // html template file for failed jobs, built-in if empty or broken
	CompletionTemplate string // html template file for completed jobs, built-in if empty or broken
	HostName           string
	MaxLogLines        int // tail of the project log included into reports
	TimeOut            time.Duration
}

// SendersParams defines destinations
type SendersParams struct {
	SMTP           notify.SMTPParams
	FromEmail      string
	ToEmails       []string
	WebhookURLs    []string
	WebhookHeaders []string // Header:Value
}

// Service reports job completions, implements the job event handler of the queue
type Service struct {
	Params
	senders   []Sender
	fromEmail string
	toEmail   []string
	webhooks  []string
	wg        sync.WaitGroup
}

// Report is the data available to templates
type Report struct {
	Host     string
	Kind     string
	BuildDir string
	Status   string
	Error    string
	Log      string
	TS       time.Time
	Duration time.Duration
}

// NewService makes notification service, returns nil if there are no destinations
func NewService(p Params, sp SendersParams) *Service {
	if len(sp.ToEmails) == 0 && len(sp.WebhookURLs) == 0 {
		return nil
	}
	res := &Service{Params: p, fromEmail: sp.FromEmail, toEmail: sp.ToEmails, webhooks: sp.WebhookURLs}
	if res.TimeOut <= 0 {
		res.TimeOut = 30 * time.Second
	}
	if res.MaxLogLines <= 0 {
		res.MaxLogLines = 20
	}
	if len(sp.ToEmails) > 0 {
		smtp := sp.SMTP
		smtp.ContentType = "text/html"
		res.senders = append(res.senders, notify.NewEmail(smtp))
	}
	if len(sp.WebhookURLs) > 0 {
		res.senders = append(res.senders, notify.NewWebhook(notify.WebhookParams{Timeout: res.TimeOut, Headers: sp.WebhookHeaders}))
	}
	log.Printf("[INFO] notifications enabled, emails: %v, webhooks: %d, on error: %v, on completion: %v",
		sp.ToEmails, len(sp.WebhookURLs), p.EnabledError, p.EnabledCompletion)
	return res
}

// IsOnError status enabling on-error notification
func (s *Service) IsOnError() bool { return s.EnabledError }

// IsOnCompletion status enabling on-completion notification
func (s *Service) IsOnCompletion() bool { return s.EnabledCompletion }

// OnJobStart does nothing, reports are sent on completion only
func (s *Service) OnJobStart(request.OnJobStart) {}

// OnJobComplete sends report in background, Wait blocks until all reports are sent
func (s *Service) OnJobComplete(req request.OnJobComplete) {
	if (req.Err != nil && !s.IsOnError()) || (req.Err == nil && !s.IsOnCompletion()) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.TimeOut)
		defer cancel()
		if err := s.notify(ctx, req); err != nil {
			log.Printf("[WARN] failed to notify about %s of %s, %v", req.Kind, req.BuildDir, err)
		}
	}()
}

// Wait for pending reports
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) notify(ctx context.Context, req request.OnJobComplete) error {
	r := s.makeReport(req)
	if req.Err != nil {
		msg, err := s.MakeErrorHTML(r)
		if err != nil {
			return fmt.Errorf("can't make html report: %w", err)
		}
		return s.Send(ctx, fmt.Sprintf("failed %s of %s on %s", req.Kind, filepath.Base(req.BuildDir), s.HostName), msg)
	}
	msg, err := s.MakeCompletionHTML(r)
	if err != nil {
		return fmt.Errorf("can't make html report: %w", err)
	}
	return s.Send(ctx, fmt.Sprintf("completed %s of %s on %s", req.Kind, filepath.Base(req.BuildDir), s.HostName), msg)
}

// Send delivers the message to all destinations, emails get subj, webhooks get subj as the first line
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error
	for _, sender := range s.senders {
		switch sender.Schema() {
		case "mailto":
			errs = append(errs, sender.Send(ctx, s.emailDestination(subj), text))
		default:
			for _, u := range s.webhooks {
				errs = append(errs, sender.Send(ctx, u, subj+"\n\n"+text))
			}
		}
	}
	return errors.Join(errs...)
}

// MakeErrorHTML renders report of a failed job
func (s *Service) MakeErrorHTML(r Report) (string, error) {
	return s.render(s.ErrorTemplate, defaultErrorTemplate, r)
}

// MakeCompletionHTML renders report of a completed job
func (s *Service) MakeCompletionHTML(r Report) (string, error) {
	return s.render(s.CompletionTemplate, defaultCompletionTemplate, r)
}

func (s *Service) render(file, fallback string, r Report) (string, error) {
	tmpl, err := template.New("msg").Parse(fallback)
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}
	if file != "" {
		if custom, cerr := template.ParseFiles(file); cerr == nil {
			tmpl = custom
		} else {
			log.Printf("[WARN] can't use template %s, fallback to default: %v", file, cerr)
		}
	}
	buf := bytes.Buffer{}
	if err = tmpl.Execute(&buf, r); err != nil {
		if file == "" {
			return "", fmt.Errorf("failed to apply template: %w", err)
		}
		log.Printf("[WARN] can't execute template %s, fallback to default: %v", file, err)
		buf.Reset()
		if err = template.Must(template.New("msg").Parse(fallback)).Execute(&buf, r); err != nil {
			return "", fmt.Errorf("failed to apply template: %w", err)
		}
	}
	return buf.String(), nil
}

func (s *Service) makeReport(req request.OnJobComplete) Report {
	r := Report{
		Host:     s.HostName,
		Kind:     req.Kind.String(),
		BuildDir: req.BuildDir,
		Status:   req.Status.String(),
		TS:       req.EndTime,
		Duration: req.EndTime.Sub(req.StartTime).Truncate(time.Millisecond),
		Log:      tailFile(filepath.Join(req.BuildDir, "log.txt"), s.MaxLogLines),
	}
	if req.Err != nil {
		r.Error = req.Err.Error()
	}
	return r
}

func (s *Service) emailDestination(subj string) string {
	return fmt.Sprintf("mailto:%s?from=%s&subject=%s", strings.Join(s.toEmail, ","), s.fromEmail,
		url.QueryEscape(subj))
}

// tailFile returns last n lines of the file, empty on any error
func tailFile(path string, n int) string {
	data, err := os.ReadFile(path) //nolint:gosec // project log
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

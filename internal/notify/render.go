package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Message is what a transport delivers.
type Message struct {
	JobID   model.JobID   `json:"jobId"`
	Type    model.JobType `json:"type"`
	To      string        `json:"to"`
	Name    string        `json:"name"`
	Subject string        `json:"subject"`
	Body    string        `json:"body"`
}

// view is the data handed to the templates.
type view struct {
	Borrower    model.Borrower
	Title       model.Title
	Loan        model.Loan
	HoldUntil   string
	DueDate     string
	OverdueDays int
}

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[model.JobType]templatePair{
	model.JobReservationAvailable: {
		subject: template.Must(template.New("ra-subject").Parse(`"{{.Title.Name}}" is ready for pick-up`)),
		body: template.Must(template.New("ra-body").Parse(`Hello {{.Borrower.Name}},

A copy of "{{.Title.Name}}"{{if .Title.Author}} by {{.Title.Author}}{{end}} is now being held for you.
{{- if .HoldUntil}}
Please collect it before {{.HoldUntil}}; after that it passes to the next reader in line.
{{- end}}
`)),
	},
	model.JobOverdueReminder: {
		subject: template.Must(template.New("od-subject").Parse(`Overdue loan: copy {{.Loan.CopyID}}`)),
		body: template.Must(template.New("od-body").Parse(`Hello {{.Borrower.Name}},

Copy {{.Loan.CopyID}} was due back on {{.DueDate}} and is {{.OverdueDays}} day(s) overdue.
Please return it as soon as possible.
`)),
	},
}

func render(job model.NotificationJob, v view) (Message, error) {
	tp, ok := templates[job.Type]
	if !ok {
		return Message{}, fmt.Errorf("no template for job type %s", job.Type)
	}
	var subj, body bytes.Buffer
	if err := tp.subject.Execute(&subj, v); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tp.body.Execute(&body, v); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{
		JobID:   job.ID,
		Type:    job.Type,
		To:      v.Borrower.Email,
		Name:    v.Borrower.Name,
		Subject: subj.String(),
		Body:    body.String(),
	}, nil
}

func formatDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

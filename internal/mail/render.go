package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

var reminderTmpl = template.Must(template.New("reminder").Parse(`<div style="font-family:Arial,Helvetica,sans-serif;max-width:540px;margin:auto;color:#111827;">
  <h2 style="color:#059669;">{{.Title}}</h2>
  <p>This is a reminder about an upcoming bill.</p>
  <table style="border-collapse:collapse;width:100%;margin:16px 0;font-size:14px;">
  {{- range .Rows}}
    <tr><td style="padding:6px 12px;border:1px solid #e5e7eb;background:#f9fafb;font-weight:600;">{{.Label}}</td><td style="padding:6px 12px;border:1px solid #e5e7eb;">{{.Value}}</td></tr>
  {{- end}}
  </table>
  {{- if .Message}}
  <p>{{.Message}}</p>
  {{- end}}
  <p style="margin-top:24px;">SmartBills Team</p>
</div>
`))

type row struct {
	Label string
	Value string
}

// Render builds the subject and HTML body for a reminder
func Render(n notification.Notification) (string, string, error) {
	title := n.Title
	if title == "" {
		title = notification.DefaultTitle
	}

	var rows []row
	if n.ProviderName != "" {
		rows = append(rows, row{"Provider", n.ProviderName})
	}
	if n.Amount != nil {
		rows = append(rows, row{"Amount", fmt.Sprintf("৳%.2f", *n.Amount)})
	}
	if n.DueDate != nil {
		rows = append(rows, row{"Due date", n.DueDate.UTC().Format("2006-01-02")})
	}
	if n.BillID != "" {
		rows = append(rows, row{"Bill", n.BillID})
	}

	var buf bytes.Buffer
	err := reminderTmpl.Execute(&buf, struct {
		Title   string
		Rows    []row
		Message string
	}{title, rows, n.Message})
	if err != nil {
		return "", "", fmt.Errorf("render reminder: %w", err)
	}
	return "Reminder - " + title, buf.String(), nil
}

package notifier

import (
	"strings"
	"time"
)

const maxMessageLen = 3800

// Message 表示一条结构化推送，渲染为 Markdown 文本。
type Message struct {
	Icon      string
	Title     string
	Lines     []string
	Footer    string
	Timestamp time.Time
}

// Render 生成最终文本，超长自动截断（Telegram 上限 4096）。
func (m Message) Render() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString("*" + header + "*\n")
	}
	for _, line := range m.Lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString(line + "\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString("_" + footer + "_\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString(m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func iconFor(severity Severity) string {
	switch severity {
	case SeverityOperator:
		return "🚨"
	case SeverityCritical:
		return "❌"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

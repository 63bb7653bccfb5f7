// Package notify tells submitters how their grade batch fared.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/logger"
)

// Summary is the per-course outcome of one send.
type Summary struct {
	CourseID         int64
	CourseExternalID string
	SubmitterID      int64
	Successes        int
	Errors           int
	Resubmits        int
}

func (s Summary) Failed() bool {
	return s.Errors > 0 || s.Resubmits > 0
}

// Notifier delivers a Summary to the submitter. Delivery problems are logged,
// never returned.
type Notifier interface {
	GradesSent(ctx context.Context, summary Summary)
}

// Message is the rendered notification.
type Message struct {
	Kind    string
	Subject string
	Text    string
}

const (
	KindSendSuccess = "send_success"
	KindSendError   = "send_error"
)

// Compose renders the notification text for a summary.
func Compose(s Summary, courseName, gradesURL string) Message {
	if courseName == "" {
		courseName = s.CourseExternalID
	}

	var b strings.Builder
	msg := Message{Kind: KindSendSuccess, Subject: fmt.Sprintf("Grades sent for %s", courseName)}
	if s.Failed() {
		msg.Kind = KindSendError
		msg.Subject = fmt.Sprintf("Problems sending grades for %s", courseName)
	}

	fmt.Fprintf(&b, "Grades for %s (%s) were sent to the SIS.\n", courseName, s.CourseExternalID)
	fmt.Fprintf(&b, "Accepted: %d\n", s.Successes)
	if s.Errors > 0 {
		fmt.Fprintf(&b, "Rejected: %d\n", s.Errors)
	}
	if s.Resubmits > 0 {
		fmt.Fprintf(&b, "Will retry automatically: %d\n", s.Resubmits)
	}
	if gradesURL != "" {
		fmt.Fprintf(&b, "\nReview the grades at %s?course_id=%d\n", gradesURL, s.CourseID)
	}
	msg.Text = b.String()
	return msg
}

type logNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier writes notifications to the log.
func NewLogNotifier() Notifier {
	return &logNotifier{log: logger.Component("notify")}
}

func (n *logNotifier) GradesSent(_ context.Context, s Summary) {
	msg := Compose(s, "", "")
	n.log.Info().
		Str("kind", msg.Kind).
		Int64("course_id", s.CourseID).
		Str("course_external_id", s.CourseExternalID).
		Int64("submitter_id", s.SubmitterID).
		Int("successes", s.Successes).
		Int("errors", s.Errors).
		Int("resubmits", s.Resubmits).
		Msg(msg.Subject)
}

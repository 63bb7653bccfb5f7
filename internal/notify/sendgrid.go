package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/identity"
	"sis-gradesync/internal/logger"
)

const sendTimeout = 30 * time.Second

type mailClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// MailNotifier emails the submitter through SendGrid.
type MailNotifier struct {
	client    mailClient
	from      *sgmail.Email
	gradesURL string
	directory identity.Resolver
	log       zerolog.Logger

	// async is false in tests so delivery happens before GradesSent returns.
	async bool
	wg    sync.WaitGroup
}

func NewMailNotifier(cfg *config.Config, directory identity.Resolver) *MailNotifier {
	return &MailNotifier{
		client:    sendgrid.NewSendClient(cfg.Notify.SendGridAPIKey),
		from:      sgmail.NewEmail(cfg.Notify.FromName, cfg.Notify.FromEmail),
		gradesURL: cfg.Notify.GradesURL,
		directory: directory,
		log:       logger.Component("notify"),
		async:     true,
	}
}

func (n *MailNotifier) GradesSent(ctx context.Context, s Summary) {
	if n.async {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.send(context.WithoutCancel(ctx), s)
		}()
		return
	}
	n.send(ctx, s)
}

// Close waits for notifications still being delivered. Call it before closing
// the database the directory reads from.
func (n *MailNotifier) Close() error {
	n.wg.Wait()
	return nil
}

func (n *MailNotifier) send(ctx context.Context, s Summary) {
	log := n.log.With().Int64("course_id", s.CourseID).Int64("submitter_id", s.SubmitterID).Logger()

	user, err := n.directory.User(ctx, s.SubmitterID)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot notify submitter")
		return
	}
	if user.Email == "" {
		log.Warn().Msg("Submitter has no email address")
		return
	}

	courseName := ""
	if course, err := n.directory.Course(ctx, s.CourseID); err == nil {
		courseName = course.FullName
	}

	msg := Compose(s, courseName, n.gradesURL)
	to := sgmail.NewEmail(user.FullName, user.Email)
	email := sgmail.NewSingleEmailPlainText(n.from, msg.Subject, to, msg.Text)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := n.client.SendWithContext(ctx, email)
	if err != nil {
		log.Error().Err(err).Str("kind", msg.Kind).Msg("Failed to send notification")
		return
	}
	if resp.StatusCode >= http.StatusBadRequest {
		log.Error().Int("status_code", resp.StatusCode).Str("kind", msg.Kind).Msg("SendGrid rejected notification")
		return
	}
	log.Debug().Str("kind", msg.Kind).Msg("Notification sent")
}

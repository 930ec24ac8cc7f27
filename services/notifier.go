package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"journal-review-api/config"
	"journal-review-api/models"
	"journal-review-api/utils"

	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
)

// Notifier tells people about workflow events. Implementations must not
// block the caller on delivery.
type Notifier interface {
	ReviewerAssigned(ctx context.Context, review models.Review)
	ReviewOverdue(ctx context.Context, review models.Review) error
}

// WaitForNotifications blocks until n has delivered everything it started in
// the background, or ctx is done. Notifiers that deliver synchronously
// return at once.
func WaitForNotifications(ctx context.Context, n Notifier) error {
	w, ok := n.(interface{ Wait(context.Context) error })
	if !ok {
		return nil
	}
	return w.Wait(ctx)
}

// LogNotifier only logs events. It is used when SMTP is not configured.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) ReviewerAssigned(_ context.Context, review models.Review) {
	n.log().WithFields(logrus.Fields{
		"review_id":   review.ID,
		"article_id":  review.ArticleID,
		"reviewer_id": review.ReviewerID,
		"round":       review.ReviewRound,
	}).Info("reviewer assigned (mail disabled)")
}

func (n LogNotifier) ReviewOverdue(_ context.Context, review models.Review) error {
	n.log().WithFields(logrus.Fields{
		"review_id":   review.ID,
		"reviewer_id": review.ReviewerID,
	}).Info("review overdue (mail disabled)")
	return nil
}

func (n LogNotifier) log() logrus.FieldLogger {
	if n.Logger == nil {
		return logrus.StandardLogger()
	}
	return n.Logger
}

// MailSender delivers one HTML message.
type MailSender interface {
	SendMail(to []string, subject, html string) error
}

// MailNotifier emails reviewers through a MailSender, retrying transient
// delivery failures with exponential backoff.
type MailNotifier struct {
	sender MailSender
	users  interface {
		FindUser(ctx context.Context, id string) (*models.User, error)
		FindArticle(ctx context.Context, id string) (*models.Article, error)
	}
	logger     logrus.FieldLogger
	newBackOff func() backoff.BackOff
	pending    sync.WaitGroup
}

func NewMailNotifier(sender MailSender, repo ReviewRepository, logger logrus.FieldLogger) *MailNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MailNotifier{
		sender: sender,
		users:  repo,
		logger: logger.WithField("component", "notifier"),
		newBackOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     time.Second,
				RandomizationFactor: 0.5,
				Multiplier:          2,
				MaxInterval:         15 * time.Second,
				MaxElapsedTime:      time.Minute,
				Clock:               backoff.SystemClock,
			}
		},
	}
}

// ReviewerAssigned emails the reviewer in the background.
func (n *MailNotifier) ReviewerAssigned(ctx context.Context, review models.Review) {
	ctx = context.WithoutCancel(ctx)
	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		reviewer, article, err := n.lookup(ctx, review)
		if err != nil {
			n.logger.WithError(err).WithField("review_id", review.ID).Warn("skip assignment email")
			return
		}

		subject := fmt.Sprintf("审稿邀请：%s", article.Title)
		body := fmt.Sprintf("您已被分配为稿件《%s》第%s轮审稿人。", article.Title, utils.ChineseNumeral(review.ReviewRound))
		if review.Deadline != nil {
			body += fmt.Sprintf("\n请于%s前提交审稿意见。", utils.FormatChineseDatePtr(review.Deadline))
		}
		if err := n.deliver(ctx, reviewer, subject, body); err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				"review_id": review.ID,
				"to":        reviewer.Email,
			}).Error("assignment email send failed")
		}
	}()
}

// Wait blocks until every assignment email started so far has been sent or
// given up on.
func (n *MailNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending notifications: %w", ctx.Err())
	}
}

// ReviewOverdue emails a deadline reminder synchronously.
func (n *MailNotifier) ReviewOverdue(ctx context.Context, review models.Review) error {
	reviewer := review.Reviewer
	article := review.Article
	if reviewer == nil || article == nil {
		var err error
		reviewer, article, err = n.lookup(ctx, review)
		if err != nil {
			return err
		}
	}

	subject := fmt.Sprintf("审稿提醒：%s", article.Title)
	body := fmt.Sprintf("稿件《%s》第%s轮审稿已超过截止日期（%s），请尽快提交审稿意见。",
		article.Title, utils.ChineseNumeral(review.ReviewRound), utils.FormatChineseDatePtr(review.Deadline))
	return n.deliver(ctx, reviewer, subject, body)
}

func (n *MailNotifier) lookup(ctx context.Context, review models.Review) (*models.User, *models.Article, error) {
	reviewer, err := n.users.FindUser(ctx, review.ReviewerID)
	if err != nil {
		return nil, nil, err
	}
	article, err := n.users.FindArticle(ctx, review.ArticleID)
	if err != nil {
		return nil, nil, err
	}
	return reviewer, article, nil
}

func (n *MailNotifier) deliver(ctx context.Context, to *models.User, subject, message string) error {
	if strings.TrimSpace(to.Email) == "" {
		return fmt.Errorf("user %s has no email address", to.ID)
	}
	html := buildReviewEmailHTML(subject, to.Name, message)
	return backoff.Retry(func() error {
		err := n.sender.SendMail([]string{to.Email}, subject, html)
		if errors.Is(err, config.ErrMailerNotConfigured) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(n.newBackOff(), ctx))
}

func buildReviewEmailHTML(subject, recipientName, message string) string {
	name := strings.TrimSpace(recipientName)
	if name == "" {
		name = "审稿人"
	}

	escapedSubject := template.HTMLEscapeString(subject)
	escapedGreeting := template.HTMLEscapeString(fmt.Sprintf("尊敬的%s：", name))
	escapedMessage := utils.PlainTextHTML(message)

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body style="margin:0;padding:0;background-color:#f9fafb;font-family:'Segoe UI',Tahoma,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 20px;">
  <div style="background-color:#ffffff;border:1px solid #e5e7eb;border-radius:12px;padding:24px;">
    <p style="margin:0 0 16px 0;font-size:16px;line-height:1.7;color:#111827;">%s</p>
    <p style="margin:0;font-size:16px;line-height:1.7;color:#111827;word-break:break-word;">%s</p>
  </div>
</div>
</body>
</html>`, escapedSubject, escapedGreeting, escapedMessage)
}

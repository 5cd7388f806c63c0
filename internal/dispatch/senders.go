package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"followup-engine/internal/followup"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Sender delivers notifications through one channel.
type Sender interface {
	Channel() followup.Channel
	Send(ctx context.Context, n *Notification) error
}

// SESService is the part of the SES client the email sender uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the part of the SNS client the browser sender uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// RecipientDirectory resolves a user's contact details.
type RecipientDirectory interface {
	Lookup(ctx context.Context, userID string) (*Recipient, error)
}

// Recipient holds the contact details of a notification owner.
type Recipient struct {
	Email string
	Phone string
}

// PostgresDirectory reads recipients from the users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (*Recipient, error) {
	var email, phone sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT email, phone FROM users WHERE id = $1`, userID).Scan(&email, &phone)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipient %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}
	return &Recipient{Email: email.String, Phone: phone.String}, nil
}

// InAppSender stores the notification in the log, which is what the in-app
// notification center reads.
type InAppSender struct {
	log NotificationLog
}

func NewInAppSender(log NotificationLog) *InAppSender {
	return &InAppSender{log: log}
}

func (s *InAppSender) Channel() followup.Channel { return followup.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, n *Notification) error {
	return s.log.Append(ctx, n)
}

// EmailSender mails the owner through SES.
type EmailSender struct {
	ses       SESService
	users     RecipientDirectory
	fromEmail string
}

func NewEmailSender(client SESService, users RecipientDirectory, fromEmail string) *EmailSender {
	return &EmailSender{ses: client, users: users, fromEmail: fromEmail}
}

func (s *EmailSender) Channel() followup.Channel { return followup.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, n *Notification) error {
	rcpt, err := s.users.Lookup(ctx, n.UserID)
	if err != nil {
		return err
	}
	if rcpt.Email == "" {
		return fmt.Errorf("user %s has no email address", n.UserID)
	}

	_, err = s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{rcpt.Email},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(n.Subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(n.Body)},
			},
		},
		Source: aws.String(s.fromEmail),
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// BrowserSender publishes a push message to the SNS topic the browser push
// gateway subscribes to. Subscribers filter on the userId attribute.
type BrowserSender struct {
	sns      SNSService
	topicARN string
}

func NewBrowserSender(client SNSService, topicARN string) *BrowserSender {
	return &BrowserSender{sns: client, topicARN: topicARN}
}

func (s *BrowserSender) Channel() followup.Channel { return followup.ChannelBrowser }

type pushPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	FollowUpID string `json:"followUpId"`
	Tag        string `json:"tag"`
}

func (s *BrowserSender) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(pushPayload{
		Title:      n.Subject,
		Body:       n.Body,
		FollowUpID: n.FollowUpID,
		Tag:        "followup-" + n.FollowUpID,
	})
	if err != nil {
		return err
	}

	_, err = s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"userId": {DataType: aws.String("String"), StringValue: aws.String(n.UserID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

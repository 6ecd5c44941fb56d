package delivery

import (
	"context"
	"errors"
	"net/mail"

	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the part of the SES v2 client we use.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends HTML email through Amazon SES.
type SESSender struct {
	client    sesAPI
	fromEmail string
}

// NewSESSender creates a sender from an AWS config.
func NewSESSender(cfg aws.Config, from string) (*SESSender, error) {
	if from == "" {
		return nil, errors.New("ses from address is required")
	}
	return &SESSender{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: from,
	}, nil
}

// Name implements Sender.
func (s *SESSender) Name() string { return "ses" }

// from applies a display name to the configured address. A configured
// address that already carries a name is replaced only when name is set.
func (s *SESSender) from(name string) string {
	if name == "" {
		return s.fromEmail
	}
	addr, err := mail.ParseAddress(s.fromEmail)
	if err != nil {
		return s.fromEmail
	}
	return (&mail.Address{Name: name, Address: addr.Address}).String()
}

// Send implements Sender.
func (s *SESSender) Send(ctx context.Context, msg compose.Message) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from(msg.FromName)),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	return err
}

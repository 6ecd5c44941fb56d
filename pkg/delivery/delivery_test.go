package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	s := &SESSender{client: fake, fromEmail: "Rewind <noreply@example.com>"}

	err := s.Send(context.Background(), compose.Message{To: "a@example.com", Subject: "S", HTML: "<b>x</b>"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("SendEmail calls = %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if aws.ToString(in.FromEmailAddress) != "Rewind <noreply@example.com>" {
		t.Errorf("From = %q", aws.ToString(in.FromEmailAddress))
	}
	if in.Destination.ToAddresses[0] != "a@example.com" {
		t.Errorf("To = %v", in.Destination.ToAddresses)
	}
	if aws.ToString(in.Content.Simple.Body.Html.Data) != "<b>x</b>" {
		t.Errorf("Html = %q", aws.ToString(in.Content.Simple.Body.Html.Data))
	}
}

func TestSESSender_FromName(t *testing.T) {
	fake := &fakeSES{}
	s := &SESSender{client: fake, fromEmail: "Rewind <noreply@example.com>"}

	msg := compose.Message{To: "a@example.com", Subject: "S", FromName: "Research Rewind"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := aws.ToString(fake.inputs[0].FromEmailAddress); got != `"Research Rewind" <noreply@example.com>` {
		t.Errorf("From = %q", got)
	}
}

func TestNewSESSender_RequiresFrom(t *testing.T) {
	if _, err := NewSESSender(aws.Config{}, ""); err == nil {
		t.Error("expected error for empty from")
	}
}

func TestDeliverer_AddressesAndWrapsErrors(t *testing.T) {
	fake := &fakeSES{err: errors.New("throttled")}
	d := NewDeliverer(&SESSender{client: fake, fromEmail: "f@example.com"}, 0)

	err := d.Send(context.Background(), recipients.Recipient{Email: "r@example.com"}, compose.Message{Subject: "S"})
	if err == nil || !errors.Is(err, fake.err) {
		t.Errorf("Send() error = %v, want wrapped throttled", err)
	}
	if fake.inputs[0].Destination.ToAddresses[0] != "r@example.com" {
		t.Error("message should be addressed to the recipient")
	}

	if err := d.Send(context.Background(), recipients.Recipient{}, compose.Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Send() without email error = %v", err)
	}
}

func TestDeliverer_Pacing(t *testing.T) {
	log := NewLogSender(zerolog.Nop())
	d := NewDeliverer(log, 40*time.Millisecond)

	start := time.Now()
	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		if err := d.Send(context.Background(), recipients.Recipient{Email: email}, compose.Message{}); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("3 paced sends took %v, want >= ~80ms", elapsed)
	}
	if got := len(log.Sent()); got != 3 {
		t.Errorf("Sent() = %d, want 3", got)
	}
}

func TestDeliverer_PacingCancelled(t *testing.T) {
	d := NewDeliverer(NewLogSender(zerolog.Nop()), time.Hour)
	r := recipients.Recipient{Email: "a@x.io"}

	if err := d.Send(context.Background(), r, compose.Message{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Send(ctx, r, compose.Message{}); err == nil {
		t.Error("expected pacing error on cancelled context")
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/notify"
)

// errUnknownType marks envelopes this worker has no handler for.
var errUnknownType = errors.New("unknown notification type")

// Processor turns queued notifications into e-mails.
type Processor struct {
	mailer Mailer
	shop   string
	log    logrus.FieldLogger
}

func NewProcessor(mailer Mailer, shop string, log logrus.FieldLogger) *Processor {
	return &Processor{mailer: mailer, shop: shop, log: log}
}

// Handle processes an SQS batch. Failed records are reported individually
// so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Error("notification failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var env notify.Envelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := p.log.WithFields(logrus.Fields{"type": env.Type, "request_id": env.RequestID})

	switch env.Type {
	case notify.TypeVerifyEmail:
		if env.Verify == nil || env.Verify.Email == "" || env.Verify.VerifyURL == "" {
			return fmt.Errorf("%s: missing recipient or link", env.Type)
		}
		m, err := renderVerification(p.shop, *env.Verify)
		if err != nil {
			return err
		}
		if err := p.mailer.Send(ctx, m); err != nil {
			return err
		}
		log.WithField("email", env.Verify.Email).Info("verification e-mail sent")
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownType, env.Type)
	}
}

// Package notify delivers outbound account notifications. The API only enqueues;
// the worker renders and sends.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/aws"
)

// TypeVerifyEmail tags verification messages on the queue.
const TypeVerifyEmail = "email.verify"

// VerificationMessage asks the worker to send a verification e-mail.
type VerificationMessage struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	VerifyURL string `json:"verifyUrl"`
}

// Envelope is the queue payload. Type says which body field is set.
type Envelope struct {
	Type      string               `json:"type"`
	RequestID string               `json:"requestId,omitempty"`
	Verify    *VerificationMessage `json:"verify,omitempty"`
}

// Notifier sends account notifications.
type Notifier interface {
	SendVerification(ctx context.Context, msg VerificationMessage) error
}

// SQSNotifier enqueues notifications for the worker.
type SQSNotifier struct {
	publisher *aws.Publisher
}

func NewSQSNotifier(p *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: p}
}

func (n *SQSNotifier) SendVerification(ctx context.Context, msg VerificationMessage) error {
	env := Envelope{Type: TypeVerifyEmail, RequestID: RequestIDFrom(ctx), Verify: &msg}
	if err := n.publisher.SendJSON(ctx, env, map[string]string{
		"type":       TypeVerifyEmail,
		"request_id": env.RequestID,
	}); err != nil {
		return fmt.Errorf("enqueue verification for %s: %w", msg.Email, err)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no queue is configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendVerification(ctx context.Context, msg VerificationMessage) error {
	n.log.WithFields(logrus.Fields{
		"email":      msg.Email,
		"verify_url": msg.VerifyURL,
	}).Info("verification e-mail (not sent, log notifier)")
	return nil
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id that SQSNotifier forwards to the worker.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id set by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

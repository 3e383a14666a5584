package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shivam349/codex1/internal/config"
	"github.com/shivam349/codex1/internal/logging"
)

func main() {
	config.LoadDotEnv()
	var cfg workerConfig
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	var mailer Mailer = logMailer{log: logger}
	if cfg.SMTPHost != "" {
		smtpMailer, err := NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		if err != nil {
			logger.WithError(err).Fatal("failed to init smtp client")
		}
		mailer = smtpMailer
	} else {
		logger.Warn("SMTP_HOST not set; e-mails are only logged")
	}
	p := NewProcessor(mailer, cfg.ShopName, logger)

	// RUN_LOCAL simulates a single SQS delivery.
	if cfg.RunLocal {
		body := cfg.LocalBody
		if body == "" {
			body = `{"type":"email.verify","requestId":"local","verify":{"email":"local@example.com","name":"Local","token":"t","verifyUrl":"http://localhost:3000/verify-email?token=t"}}`
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local message failed")
		}
		return
	}

	lambda.Start(p.Handle)
}

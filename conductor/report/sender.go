// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package report

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"
)

// Config contains configurable values for result notifications.
type Config struct {
	Receivers      string        `help:"comma separated addresses receiving backup result reports, empty only logs reports" default:""`
	SenderEmail    string        `help:"address reports are sent from" default:"volumebackup@localhost"`
	SenderName     string        `help:"display name reports are sent from" default:"Volume Backup"`
	SenderPassword string        `help:"password authenticating the sender on the SMTP server" default:""`
	SMTPHost       string        `help:"SMTP server host" default:"localhost"`
	SMTPPort       int           `help:"SMTP server port" default:"25"`
	Subject        string        `help:"subject of report emails" default:"Backup result"`
	Timeout        time.Duration `help:"timeout of a single SMTP session" default:"30s"`
}

// ReceiverList returns the configured receivers.
func (config *Config) ReceiverList() []string {
	var receivers []string
	for _, receiver := range strings.Split(config.Receivers, ",") {
		if receiver = strings.TrimSpace(receiver); receiver != "" {
			receivers = append(receivers, receiver)
		}
	}
	return receivers
}

// Sender delivers a rendered report.
type Sender interface {
	Send(ctx context.Context, subject, html string) error
}

// NewSender returns an SMTP sender, or a LogSender when no receivers are
// configured.
func NewSender(log *zap.Logger, config Config) Sender {
	receivers := config.ReceiverList()
	if len(receivers) == 0 {
		return &LogSender{log: log}
	}
	return &SMTPSender{log: log, config: config, receivers: receivers}
}

// SMTPSender sends reports as HTML email.
type SMTPSender struct {
	log       *zap.Logger
	config    Config
	receivers []string
}

// Send implements Sender.
func (sender *SMTPSender) Send(ctx context.Context, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := mail.NewMessage()
	message.SetAddressHeader("From", sender.config.SenderEmail, sender.config.SenderName)
	message.SetHeader("To", sender.receivers...)
	message.SetHeader("Subject", subject)
	message.SetDateHeader("Date", time.Now())
	message.SetBody("text/html", html)

	dialer := mail.NewDialer(sender.config.SMTPHost, sender.config.SMTPPort, sender.config.SenderEmail, sender.config.SenderPassword)
	if sender.config.SenderPassword == "" {
		dialer.Username = ""
	}
	if sender.config.Timeout > 0 {
		dialer.Timeout = sender.config.Timeout
	}
	dialer.StartTLSPolicy = mail.OpportunisticStartTLS

	if err := dialer.DialAndSend(message); err != nil {
		return Error.Wrap(err)
	}
	sender.log.Info("backup result email sent", zap.Strings("receivers", sender.receivers))
	return nil
}

// LogSender writes reports to the log.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send implements Sender.
func (sender *LogSender) Send(ctx context.Context, subject, html string) error {
	sender.log.Info("backup result", zap.String("subject", subject), zap.String("body", html))
	return nil
}

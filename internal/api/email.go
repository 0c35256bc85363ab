package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/mail"
)

func (s *Server) registerEmail(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "sendEmail",
		Method:      http.MethodPost,
		Path:        "/api/email",
		Tags:        []string{"Email"},
	}, func(ctx context.Context, input *SendEmailInput) (*SendEmailOutput, error) {
		msg, err := mail.Normalize(mail.Message{
			To:         input.Body.To,
			Subject:    input.Body.Subject,
			Content:    input.Body.Content,
			Attachment: input.Body.Attachment,
		})
		if err != nil {
			emailsTotal.WithLabelValues("invalid").Inc()
			return nil, huma.NewError(http.StatusBadRequest, "Missing required fields")
		}

		e := audit.Event{
			Actor:      s.actor(),
			Action:     "send_email",
			Resource:   msg.Subject,
			IP:         remoteAddrFromContext(ctx),
			Recipients: len(msg.To),
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			slog.Error("send email failed", "recipients", len(msg.To), "error", err)
			e.Status = "failed"
			e.Reason = err.Error()
			e.Warn("Audit Log: Email Failed")
			if mail.HasCode(err, mail.CodeRejected) {
				emailsTotal.WithLabelValues("rejected").Inc()
				return nil, huma.NewError(http.StatusBadGateway, err.Error())
			}
			emailsTotal.WithLabelValues("error").Inc()
			return nil, huma.NewError(http.StatusInternalServerError, err.Error())
		}
		emailsTotal.WithLabelValues("sent").Inc()
		e.Status = "granted"
		e.Info("Audit Log: Email Sent")

		out := &SendEmailOutput{}
		out.Body.Success = true
		out.Body.Message = "Email sent successfully"
		return out, nil
	})
}

package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/tmaxmax/go-sse"
)

type messageView struct {
	models.Message

	BotName  string
	Feedback widget.FeedbackControl
}

type welcomeView struct {
	Deployment Deployment
	Auth       models.AuthState
	// Hidden is set once the conversation has started.
	Hidden bool
}

var templateFuncs = template.FuncMap{
	"trustedHTML": func(s string) template.HTML {
		// Message HTML is produced by the markdown engine, which escapes or sanitises its input.
		return template.HTML(s) //nolint:gosec
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("15:04")
	},
}

// publisher returns the listener that renders each event of ctl into the matching partial and publishes
// it to the SSE topic of ctl's session. The event type name is used as the SSE event type.
func (m Main) publisher(ctl *widget.Controller) widget.Listener {
	topic := sessionTopic(ctl.SessionID())
	logger := m.logger.With(slog.String("session", ctl.SessionID()))

	return func(e widget.Event) {
		data, err := m.renderEvent(ctl, e)
		if err != nil {
			logger.Error("Failed to render event",
				slog.String("type", string(e.Type)),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		msg := &sse.Message{Type: sse.Type(string(e.Type))}
		msg.AppendData(data)
		if err := m.sseSrv.Publish(msg, topic); err != nil {
			logger.Error("Failed to publish event",
				slog.String("type", string(e.Type)),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (m Main) renderEvent(ctl *widget.Controller, e widget.Event) (string, error) {
	switch e.Type {
	case widget.EventMessageAppended, widget.EventMessageUpdated:
		return m.renderPartial("message", m.messageView(e.Message, widget.FeedbackControl{}))
	case widget.EventAuthChanged:
		return m.renderPartial("welcome", welcomeView{
			Deployment: m.cfg.Deployment,
			Auth:       e.Auth,
			Hidden:     len(ctl.Messages()) > 0,
		})
	case widget.EventFeedbackChanged:
		return m.renderPartial("feedback", e.Feedback)
	case widget.EventInputChanged:
		if e.InputEnabled {
			return "enabled", nil
		}
		return "disabled", nil
	default:
		return "", fmt.Errorf("unknown event type %q", e.Type)
	}
}

func (m Main) renderPartial(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

func (m Main) messageView(msg models.Message, ctrl widget.FeedbackControl) messageView {
	v := messageView{
		Message: msg,
		BotName: m.cfg.Deployment.BotName,
		Feedback: widget.FeedbackControl{
			MessageID:  msg.ID,
			ResponseID: msg.ResponseID,
			State:      msg.Feedback,
		},
	}
	if ctrl.Visible && ctrl.MessageID == msg.ID {
		v.Feedback = ctrl
	}
	return v
}

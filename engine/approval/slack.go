package approval

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/cloudops-io/workflow-core/engine/logging"
)

// SlackNotifier posts a message with approve/deny context whenever a
// confirm/danger tool call creates a pending approval. This
// supplements spec §4.5: the distillation describes the resolve
// contract but not how an operator learns an approval is waiting.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a notifier posting to channel using token.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

// NotifyPending posts a message describing the pending approval. A
// posting failure is logged and swallowed — it must never block or
// fail the approval flow itself.
func (n *SlackNotifier) NotifyPending(p Pending) {
	text := fmt.Sprintf(":rotating_light: Approval requested for tool `%s` (call `%s`, org `%s`)",
		p.ToolName, p.ToolCallID, p.OrgID)
	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		logging.L().Warn("slack approval notification failed", zap.Error(err), zap.String("tool_call_id", p.ToolCallID))
	}
}

// Package broadcaster publishes notification lifecycle events onto an AWS
// SNS FIFO topic, for other services to subscribe to.
package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// SNSBroadcaster publishes serialized History records to a pub/sub topic,
// keyed by history id as the FIFO message group so per-entity ordering is
// preserved. Publication is a no-op if no topic is configured, and
// transport errors are logged and swallowed: the core notification flow
// never blocks on broadcast.
type SNSBroadcaster struct {
	client        *sns.Client
	topicARN      string
	eventTypeAttr string
	log           *logger.Logger
}

// New constructs an SNSBroadcaster. topicARN may be empty, in which case
// Publish is a no-op. eventTypeAttr, if non-empty, names the message
// attribute carrying a status marker.
func New(client *sns.Client, topicARN, eventTypeAttr string, log *logger.Logger) *SNSBroadcaster {
	return &SNSBroadcaster{client: client, topicARN: topicARN, eventTypeAttr: eventTypeAttr, log: log}
}

// Publish implements ports.EventPublisher.
func (b *SNSBroadcaster) Publish(ctx context.Context, h *domain.History) error {
	if b.topicARN == "" {
		return nil
	}

	body, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal history for broadcast: %w", err)
	}

	id := h.ID.Hex()
	input := &sns.PublishInput{
		TopicArn: aws.String(b.topicARN),
		Message:  aws.String(string(body)),
	}
	if strings.HasSuffix(b.topicARN, ".fifo") {
		input.MessageGroupId = aws.String("notifications_event_" + id)
		input.MessageDeduplicationId = aws.String(id + ":" + string(h.Status) + ":" + h.UpdatedAt.Format("20060102T150405.000000000"))
	}
	if b.eventTypeAttr != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			b.eventTypeAttr: {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(h.Status)),
			},
		}
	}

	if _, err := b.client.Publish(ctx, input); err != nil {
		b.log.Warn().Err(err).Str("historyId", id).Msg("broadcast publish failed, swallowing")
		return nil
	}

	b.log.Debug().Str("historyId", id).Str("status", string(h.Status)).Msg("broadcast event published")
	return nil
}

package service

import (
	"context"
	"encoding/json"

	"analytics-console/internal/constant"
	"analytics-console/internal/dto"
	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console/session"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const metadataUserID = "user_id"

// UpdateDelivery pushes a rendered frame to every connection of a user.
type UpdateDelivery interface {
	SendToUser(userID string, payload []byte)
}

type IUpdateForwarder interface {
	Forward(userId string, update session.Update)
	Consume(ctx context.Context) error
}

// UpdateForwarder moves conversation updates from workspaces onto the
// websocket hub through the in-process bus. The bus must block publishers
// until the subscriber acks so updates of one log stay in order.
type UpdateForwarder struct {
	pubSub   *gochannel.GoChannel
	topic    string
	delivery UpdateDelivery
	logger   logger.ILogger
}

func NewUpdateForwarder(pubSub *gochannel.GoChannel, delivery UpdateDelivery, logger logger.ILogger) *UpdateForwarder {
	return &UpdateForwarder{
		pubSub:   pubSub,
		topic:    constant.ConsoleUpdateTopic,
		delivery: delivery,
		logger:   logger,
	}
}

// NewUpdateBus builds the gochannel the forwarder expects.
func NewUpdateBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewStdLogger(false, false),
	)
}

func (f *UpdateForwarder) Forward(userId string, update session.Update) {
	payload, err := json.Marshal(toUpdateMessage(update))
	if err != nil {
		f.logger.Error(constant.ModuleForwarder, "Failed to encode update", map[string]interface{}{"error": err.Error(), "user_id": userId})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataUserID, userId)
	if err := f.pubSub.Publish(f.topic, msg); err != nil {
		f.logger.Warn(constant.ModuleForwarder, "Failed to publish update", map[string]interface{}{"error": err.Error(), "user_id": userId})
	}
}

func (f *UpdateForwarder) Consume(ctx context.Context) error {
	messages, err := f.pubSub.Subscribe(ctx, f.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			f.processMessage(msg)
		}
	}()

	return nil
}

func (f *UpdateForwarder) processMessage(msg *message.Message) {
	userId := msg.Metadata.Get(metadataUserID)
	if userId == "" {
		f.logger.Warn(constant.ModuleForwarder, "Dropping update without user", map[string]interface{}{"message_id": msg.UUID})
		msg.Ack()
		return
	}

	f.delivery.SendToUser(userId, msg.Payload)
	msg.Ack()
}

func toUpdateMessage(u session.Update) dto.ConsoleUpdateMessage {
	return dto.ConsoleUpdateMessage{
		Type:       constant.WsTypeConsoleUpdate,
		Mode:       u.Mode.String(),
		Op:         string(u.Op),
		Background: u.Background,
		Message:    toMessageResponse(u.Message),
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

// SNSPublishAPI is the subset of the SNS client used for push delivery.
type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPushService presents notifications through SNS mobile push. The device
// is the platform endpoint ARN registered for the handset.
type SNSPushService struct {
	client SNSPublishAPI
	logger *zap.Logger
}

// NewSNSPushService loads the default AWS configuration for region.
func NewSNSPushService(ctx context.Context, region string, log *zap.Logger) (*SNSPushService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSPushServiceWithClient(sns.NewFromConfig(cfg), log), nil
}

// NewSNSPushServiceWithClient wraps an existing SNS client.
func NewSNSPushServiceWithClient(client SNSPublishAPI, log *zap.Logger) *SNSPushService {
	return &SNSPushService{client: client, logger: log.Named("SNSPushService")}
}

// DisplayNotification publishes a platform-specific message to the endpoint ARN device.
func (s *SNSPushService) DisplayNotification(ctx context.Context, device string, t types.NotificationType, payload json.RawMessage) error {
	if device == "" {
		return fmt.Errorf("sns push: empty endpoint arn")
	}
	message, err := snsMessage(RenderPush(t, payload))
	if err != nil {
		return err
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(device),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	s.logger.Debug("Push notification published",
		zap.String("endpoint", logger.MaskSensitiveString(device, 12, 4)),
		zap.String("messageId", aws.ToString(out.MessageId)))
	return nil
}

// snsMessage encodes msg as the per-platform JSON document SNS expects when
// MessageStructure is "json".
func snsMessage(msg PushMessage) (string, error) {
	apns, err := json.Marshal(map[string]interface{}{
		"aps":  map[string]interface{}{"alert": map[string]string{"title": msg.Title, "body": msg.Body}, "sound": "default"},
		"data": msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("encode apns message: %w", err)
	}
	gcm, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{"title": msg.Title, "body": msg.Body},
		"data":         msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("encode gcm message: %w", err)
	}

	doc, err := json.Marshal(map[string]string{
		"default":      msg.Body,
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
		"GCM":          string(gcm),
	})
	if err != nil {
		return "", fmt.Errorf("encode sns message: %w", err)
	}
	return string(doc), nil
}

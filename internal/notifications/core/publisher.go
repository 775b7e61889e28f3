package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"reviewsms/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSOutcomePublisher sends each DeliveryOutcome as a JSON message. The
// result is duplicated into a message attribute so subscribers can filter
// without parsing the body.
type SQSOutcomePublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

var _ OutcomePublisher = (*SQSOutcomePublisher)(nil)

// NewSQSOutcomePublisher targets queueURL.
func NewSQSOutcomePublisher(client SQSSender, queueURL string, logger types.Logger) *SQSOutcomePublisher {
	return &SQSOutcomePublisher{client: client, queueURL: queueURL, logger: logger}
}

func (p *SQSOutcomePublisher) Publish(ctx context.Context, outcome types.DeliveryOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("outcome publisher: failed to marshal outcome: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"result": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(outcome.Result)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("outcome publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Debug("delivery outcome published",
		"transaction_id", outcome.TransactionID,
		"result", string(outcome.Result),
	)
	return nil
}

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const priorityAttribute = "Priority"

var errReceiptInvalid = errors.New("receipt handle is invalid")

// sqsAPI is the slice of SQS the queue needs, narrowed for tests.
type sqsAPI interface {
	SendMessage(ctx context.Context, in sqsSend) error
	ReceiveMessage(ctx context.Context, in sqsReceive) ([]sqsReceived, error)
	DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error
}

type sqsSend struct {
	QueueURL     string
	Body         string
	DelaySeconds int32
	Priority     string
}

type sqsReceive struct {
	QueueURL          string
	MaxMessages       int32
	WaitSeconds       int32
	VisibilitySeconds int32
}

type sqsReceived struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	Priority      string
}

type awsSQSClient struct {
	client *sqs.Client
}

// newAWSSQSClient loads the default credential chain. A non-empty endpoint
// points the client at a local emulator.
func newAWSSQSClient(ctx context.Context, region, endpoint string) (*awsSQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &awsSQSClient{client: client}, nil
}

func (c *awsSQSClient) SendMessage(ctx context.Context, in sqsSend) error {
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(in.QueueURL),
		MessageBody:  aws.String(in.Body),
		DelaySeconds: in.DelaySeconds,
		MessageAttributes: map[string]types.MessageAttributeValue{
			priorityAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(in.Priority),
			},
		},
	})
	return err
}

func (c *awsSQSClient) ReceiveMessage(ctx context.Context, in sqsReceive) ([]sqsReceived, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(in.QueueURL),
		MaxNumberOfMessages:   in.MaxMessages,
		WaitTimeSeconds:       in.WaitSeconds,
		VisibilityTimeout:     in.VisibilitySeconds,
		MessageAttributeNames: []string{priorityAttribute},
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceived, 0, len(out.Messages))
	for _, m := range out.Messages {
		var priority string
		if attr, ok := m.MessageAttributes[priorityAttribute]; ok {
			priority = aws.ToString(attr.StringValue)
		}
		messages = append(messages, sqsReceived{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			Priority:      priority,
		})
	}
	return messages, nil
}

func (c *awsSQSClient) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return errReceiptInvalid
	}
	return err
}

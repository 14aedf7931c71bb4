package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

// putItemAPI is the slice of the DynamoDB client the archive uses.
type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoArchive mirrors raw vendor payloads into a DynamoDB table keyed by
// source and capture time.
type DynamoArchive struct {
	client putItemAPI
	table  string
}

// NewDynamoArchive builds an archive using the default AWS credential chain.
func NewDynamoArchive(ctx context.Context, tableName string) (*DynamoArchive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoArchive{
		client: dynamodb.NewFromConfig(cfg),
		table:  tableName,
	}, nil
}

// ArchivePayload writes one payload item.
func (a *DynamoArchive) ArchivePayload(ctx context.Context, source roomenv.SourceTag, at time.Time, payload []byte) error {
	_, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item: map[string]types.AttributeValue{
			"src_type":    &types.AttributeValueMemberS{Value: string(source)},
			"captured_at": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
			"detail":      &types.AttributeValueMemberS{Value: string(payload)},
		},
	})
	if err != nil {
		return fmt.Errorf("put payload item: %w", err)
	}
	return nil
}

// Archives fans a payload out to several archives. Every archive is tried;
// the first error is returned.
type Archives []roomenv.PayloadArchive

// ArchivePayload implements roomenv.PayloadArchive.
func (a Archives) ArchivePayload(ctx context.Context, source roomenv.SourceTag, at time.Time, payload []byte) error {
	var first error
	for _, archive := range a {
		if err := archive.ArchivePayload(ctx, source, at, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

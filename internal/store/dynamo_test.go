package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

type fakePutItem struct {
	inputs []*dynamodb.PutItemInput
	err    error
}

func (f *fakePutItem) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.inputs = append(f.inputs, params)
	return &dynamodb.PutItemOutput{}, f.err
}

func TestDynamoArchivePayload(t *testing.T) {
	fake := &fakePutItem{}
	a := &DynamoArchive{client: fake, table: "RoomEnvPayloads"}

	at := time.Date(2023, 1, 6, 0, 1, 30, 0, time.UTC)
	require.NoError(t, a.ArchivePayload(context.Background(), roomenv.SourceNetatmo, at, []byte(`[]`)))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "RoomEnvPayloads", aws.ToString(in.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "netatmo"}, in.Item["src_type"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2023-01-06T00:01:30Z"}, in.Item["captured_at"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "[]"}, in.Item["detail"])
}

func TestDynamoArchivePayloadError(t *testing.T) {
	fake := &fakePutItem{err: errors.New("throttled")}
	a := &DynamoArchive{client: fake, table: "RoomEnvPayloads"}

	err := a.ArchivePayload(context.Background(), roomenv.SourceNetatmo, time.Now(), nil)
	assert.ErrorContains(t, err, "throttled")
}

func TestArchivesTriesEveryArchive(t *testing.T) {
	failing := &DynamoArchive{client: &fakePutItem{err: errors.New("throttled")}, table: "a"}
	ok := &fakePutItem{}
	archives := Archives{failing, &DynamoArchive{client: ok, table: "b"}}

	err := archives.ArchivePayload(context.Background(), roomenv.SourceNetatmo, time.Now(), []byte(`[]`))
	assert.ErrorContains(t, err, "throttled")
	assert.Len(t, ok.inputs, 1)
}

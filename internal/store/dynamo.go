package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/example/retail-backoffice/internal/audit"
)

// NewDynamoClient builds a DynamoDB client from the ambient AWS
// configuration (env, shared config, instance role).
func NewDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// DynamoAuditLog keeps the audit trail in a DynamoDB table keyed by
// entity_id with a timestamp-ordered sort key, for deployments that want
// the trail outside the relational database.
type DynamoAuditLog struct {
	client    *dynamodb.Client
	tableName string
}

type dynamoEntry struct {
	EntityID   string `dynamodbav:"entity_id"`
	SortKey    string `dynamodbav:"sort_key"` // created_at + entry id, keeps append order
	ID         string `dynamodbav:"id"`
	EntityType string `dynamodbav:"entity_type"`
	FromState  string `dynamodbav:"from_state"`
	ToState    string `dynamodbav:"to_state"`
	Actor      string `dynamodbav:"actor"`
	Note       string `dynamodbav:"note"`
	CreatedAt  string `dynamodbav:"created_at"`
}

func NewDynamoAuditLog(client *dynamodb.Client, tableName string) *DynamoAuditLog {
	return &DynamoAuditLog{client: client, tableName: tableName}
}

func (l *DynamoAuditLog) Append(ctx context.Context, e audit.Entry) (*audit.Entry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	item := dynamoEntry{
		EntityID:   e.EntityID,
		SortKey:    e.CreatedAt.Format(time.RFC3339Nano) + "#" + e.ID,
		ID:         e.ID,
		EntityType: e.EntityType,
		FromState:  e.FromState,
		ToState:    e.ToState,
		Actor:      e.Actor,
		Note:       e.Note,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(entity_id) AND attribute_not_exists(sort_key)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put audit entry: %w", err)
	}
	return &e, nil
}

func (l *DynamoAuditLog) Entries(ctx context.Context, entityID string) ([]audit.Entry, error) {
	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("entity_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: entityID},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}

	entries := make([]audit.Entry, 0, len(out.Items))
	for _, item := range out.Items {
		var de dynamoEntry
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
		entries = append(entries, audit.Entry{
			ID:         de.ID,
			EntityType: de.EntityType,
			EntityID:   de.EntityID,
			FromState:  de.FromState,
			ToState:    de.ToState,
			Actor:      de.Actor,
			Note:       de.Note,
			CreatedAt:  createdAt,
		})
	}
	return entries, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canvassync/application/ports"
	pkgerrors "canvassync/pkg/errors"
	"canvassync/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// DynamoDBMaxItemBytes is the DynamoDB item size limit
const DynamoDBMaxItemBytes = 400 * 1024

// DynamoAPI is the subset of the DynamoDB client used by DynamoDBStorage
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStorage keeps values as items of a DynamoDB table, partitioned by owner.
// The item size limit plays the role of the storage quota.
type DynamoDBStorage struct {
	client    DynamoAPI
	tableName string
	owner     string
	maxBytes  int
	logger    *zap.Logger
}

// kvItem represents the DynamoDB item structure for a stored value
type kvItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Value     string `dynamodbav:"Value"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// NewDynamoDBStorage creates a storage over the given table. owner scopes the keys, typically a device or user id.
func NewDynamoDBStorage(client DynamoAPI, tableName, owner string, logger *zap.Logger) *DynamoDBStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBStorage{
		client:    client,
		tableName: tableName,
		owner:     owner,
		maxBytes:  DynamoDBMaxItemBytes,
		logger:    logger,
	}
}

func (s *DynamoDBStorage) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("CACHE#%s", s.owner)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("KEY#%s", key)},
	}
}

// Get returns the stored value
func (s *DynamoDBStorage) Get(ctx context.Context, key string) (string, bool, error) {
	proj := expression.NamesList(expression.Name("Value"))
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return "", false, fmt.Errorf("failed to build projection: %w", err)
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.itemKey(key),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return "", false, nil
	}

	var item kvItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item.Value, true, nil
}

// Set stores a value
func (s *DynamoDBStorage) Set(ctx context.Context, key, value string) error {
	item := kvItem{
		PK:        fmt.Sprintf("CACHE#%s", s.owner),
		SK:        fmt.Sprintf("KEY#%s", key),
		Value:     value,
		UpdatedAt: utils.NowRFC3339(),
	}
	if size := len(item.PK) + len(item.SK) + len(item.Value) + len(item.UpdatedAt); size > s.maxBytes {
		return pkgerrors.NewQuotaExceededError("dynamodb", ports.ErrQuotaExceeded)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		if isItemTooLarge(err) {
			s.logger.Warn("DynamoDB rejected oversized cache item", zap.String("key", key), zap.Int("bytes", len(value)))
			return pkgerrors.NewQuotaExceededError("dynamodb", fmt.Errorf("%w: %v", ports.ErrQuotaExceeded, err))
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Remove deletes a key
func (s *DynamoDBStorage) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func isItemTooLarge(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "item size")
}

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB item layout. The table needs a string partition key named "pk";
// enabling DynamoDB TTL on the "ttl" attribute lets AWS reap expired items.
const (
	dynamoKeyAttr   = "pk"
	dynamoValueAttr = "value"
	dynamoTTLAttr   = "ttl"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDBStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore is a KeyValueStore backed by a single DynamoDB table.
// TTL deletion in DynamoDB is lazy, so reads also check the ttl attribute.
type DynamoDBStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDBStore creates a store over an existing table.
func NewDynamoDBStore(api dynamodbAPI, tableName string, opts ...Option) (*DynamoDBStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	cfg := applyOpts(opts)
	return &DynamoDBStore{api: api, tableName: tableName, now: cfg.Now}, nil
}

// NewDynamoDBStoreFromURL builds a store from dynamodb://<table>?region=..&endpoint=..
// using the default AWS credential chain.
func NewDynamoDBStoreFromURL(ctx context.Context, rawURL string, opts ...Option) (*DynamoDBStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dynamodb URL: %w", err)
	}
	table := u.Host
	if table == "" {
		table = strings.TrimPrefix(u.Path, "/")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := u.Query().Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("DynamoDBStore: failed to load AWS config", "error", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := u.Query().Get("endpoint")
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	slog.Debug("DynamoDBStore: client created", "table", table, "endpoint_set", endpoint != "")
	return NewDynamoDBStore(client, table, opts...)
}

func (s *DynamoDBStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoDBStore) nowAttr() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoDBStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", ErrNotFound
	}
	if ttl, ok := numAttr(out.Item, dynamoTTLAttr); ok && ttl <= s.now().Unix() {
		return "", ErrNotFound
	}
	switch v := out.Item[dynamoValueAttr].(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return "", fmt.Errorf("key %s has no usable %q attribute", key, dynamoValueAttr)
	}
}

func (s *DynamoDBStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	item := s.key(key)
	item[dynamoValueAttr] = &types.AttributeValueMemberS{Value: value}
	if exp := expiryFor(s.now(), ttl); !exp.IsZero() {
		item[dynamoTTLAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)}
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Incr uses an atomic ADD while the item is live. An expired item is replaced
// with a fresh counter; if another writer wins that race the ADD is retried once.
func (s *DynamoDBStore) Incr(ctx context.Context, key string) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		n, err := s.addOne(ctx, key)
		if err == nil {
			return n, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
		}

		item := s.key(key)
		item[dynamoValueAttr] = &types.AttributeValueMemberN{Value: "1"}
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_exists(#ttl) AND #ttl <= :now"),
			ExpressionAttributeNames: map[string]string{"#ttl": dynamoTTLAttr},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": s.nowAttr(),
			},
		})
		if err == nil {
			return 1, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("failed to reset expired counter %s: %w", key, err)
		}
	}
	return 0, fmt.Errorf("failed to increment key %s: concurrent expiry", key)
}

func (s *DynamoDBStore) addOne(ctx context.Context, key string) (int64, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(key),
		UpdateExpression:    aws.String("ADD #v :one"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl) OR #ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#v":   dynamoValueAttr,
			"#ttl": dynamoTTLAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": s.nowAttr(),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, errors.New("empty update response")
	}
	n, ok := numAttr(out.Attributes, dynamoValueAttr)
	if !ok {
		return 0, fmt.Errorf("update response missing %q", dynamoValueAttr)
	}
	return n, nil
}

func (s *DynamoDBStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	in := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.key(key),
		ConditionExpression:      aws.String("attribute_exists(#pk) AND (attribute_not_exists(#ttl) OR #ttl > :now)"),
		ExpressionAttributeNames: map[string]string{"#pk": dynamoKeyAttr, "#ttl": dynamoTTLAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": s.nowAttr(),
		},
	}
	if exp := expiryFor(s.now(), ttl); exp.IsZero() {
		in.UpdateExpression = aws.String("REMOVE #ttl")
	} else {
		in.UpdateExpression = aws.String("SET #ttl = :ttl")
		in.ExpressionAttributeValues[":ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)}
	}

	if _, err := s.api.UpdateItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to set expiry on key %s: %w", key, err)
	}
	return true, nil
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	return err
}

func (s *DynamoDBStore) Close() error { return nil }

func numAttr(item map[string]types.AttributeValue, key string) (int64, bool) {
	v, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

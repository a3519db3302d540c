package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut      *dynamodb.GetItemOutput
	getErr      error
	putErrs     []error
	updateOuts  []*dynamodb.UpdateItemOutput
	updateErrs  []error
	deleteErr   error
	describeErr error

	lastGetInput    *dynamodb.GetItemInput
	putInputs       []*dynamodb.PutItemInput
	updateInputs    []*dynamodb.UpdateItemInput
	lastDeleteInput *dynamodb.DeleteItemInput
	describeCalls   int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	var err error
	if len(f.putErrs) > 0 {
		err, f.putErrs = f.putErrs[0], f.putErrs[1:]
	}
	return &dynamodb.PutItemOutput{}, err
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	out := &dynamodb.UpdateItemOutput{}
	if len(f.updateOuts) > 0 {
		out, f.updateOuts = f.updateOuts[0], f.updateOuts[1:]
	}
	var err error
	if len(f.updateErrs) > 0 {
		err, f.updateErrs = f.updateErrs[0], f.updateErrs[1:]
	}
	return out, err
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.describeCalls++
	return &dynamodb.DescribeTableOutput{}, f.describeErr
}

var dynamoNow = time.Unix(1_700_000_000, 0)

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoDBStore {
	t.Helper()
	s, err := NewDynamoDBStore(db, "bridge-state", WithClock(func() time.Time { return dynamoNow }))
	require.NoError(t, err)
	return s
}

func numItem(v string) *types.AttributeValueMemberN { return &types.AttributeValueMemberN{Value: v} }

func TestNewDynamoDBStore_Validation(t *testing.T) {
	_, err := NewDynamoDBStore(nil, "t")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewDynamoDBStore(&fakeDynamo{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "table name")
}

func TestDynamoGet_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	s := mustNewDynamo(t, db)
	_, err := s.Get(context.Background(), "conv:+1")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "bridge-state", *db.lastGetInput.TableName)
}

func TestDynamoGet_Value(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"pk":    &types.AttributeValueMemberS{Value: "conv:+1"},
		"value": &types.AttributeValueMemberS{Value: `[{"role":"user","content":"hi"}]`},
		"ttl":   numItem("1700000100"),
	}}}
	s := mustNewDynamo(t, db)
	v, err := s.Get(context.Background(), "conv:+1")
	require.NoError(t, err)
	require.Equal(t, `[{"role":"user","content":"hi"}]`, v)
}

func TestDynamoGet_ExpiredItemIsMissing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"pk":    &types.AttributeValueMemberS{Value: "k"},
		"value": &types.AttributeValueMemberS{Value: "v"},
		"ttl":   numItem("1699999999"),
	}}}
	s := mustNewDynamo(t, db)
	_, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoGet_Error(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	s := mustNewDynamo(t, db)
	_, err := s.Get(context.Background(), "k")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestDynamoSet_WritesTTL(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamo(t, db)
	require.NoError(t, s.Set(context.Background(), "k", "v", time.Hour))
	require.Len(t, db.putInputs, 1)
	item := db.putInputs[0].Item
	require.Equal(t, "v", item["value"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1700003600", item["ttl"].(*types.AttributeValueMemberN).Value)

	require.NoError(t, s.Set(context.Background(), "k", "v", 0))
	_, hasTTL := db.putInputs[1].Item["ttl"]
	require.False(t, hasTTL)
}

func TestDynamoIncr_Live(t *testing.T) {
	db := &fakeDynamo{updateOuts: []*dynamodb.UpdateItemOutput{{
		Attributes: map[string]types.AttributeValue{"value": numItem("3")},
	}}}
	s := mustNewDynamo(t, db)
	n, err := s.Incr(context.Background(), "ratelimit:+1")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, "ADD #v :one", *db.updateInputs[0].UpdateExpression)
	require.Equal(t, types.ReturnValueUpdatedNew, db.updateInputs[0].ReturnValues)
	require.Empty(t, db.putInputs)
}

func TestDynamoIncr_ExpiredResets(t *testing.T) {
	db := &fakeDynamo{updateErrs: []error{&types.ConditionalCheckFailedException{}}}
	s := mustNewDynamo(t, db)
	n, err := s.Incr(context.Background(), "ratelimit:+1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Len(t, db.putInputs, 1)
	require.Equal(t, "1", db.putInputs[0].Item["value"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoIncr_Error(t *testing.T) {
	db := &fakeDynamo{updateErrs: []error{errors.New("throttled")}}
	s := mustNewDynamo(t, db)
	_, err := s.Incr(context.Background(), "k")
	require.ErrorContains(t, err, "throttled")
}

func TestDynamoExpire(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamo(t, db)
	ok, err := s.Expire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "SET #ttl = :ttl", *db.updateInputs[0].UpdateExpression)
	require.Equal(t, "1700000060", db.updateInputs[0].ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoExpire_MissingKey(t *testing.T) {
	db := &fakeDynamo{updateErrs: []error{&types.ConditionalCheckFailedException{}}}
	s := mustNewDynamo(t, db)
	ok, err := s.Expire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoDeleteAndPing(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamo(t, db)
	require.NoError(t, s.Delete(context.Background(), "k"))
	require.Equal(t, "k", db.lastDeleteInput.Key["pk"].(*types.AttributeValueMemberS).Value)

	require.NoError(t, s.Ping(context.Background()))
	require.Equal(t, 1, db.describeCalls)

	db.describeErr = errors.New("no table")
	require.Error(t, s.Ping(context.Background()))
}

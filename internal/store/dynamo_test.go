package store

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"medpolicy/internal/models"
)

// fakeDynamo 只理解 Dynamo 实际发出的三种条件表达式。
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	return m[dynamoKeyAttr].(*types.AttributeValueMemberS).Value
}

func strAttr(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Item)
	cur, exists := f.items[k]
	failed := &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(" + dynamoKeyAttr + ")":
		if exists {
			return nil, failed
		}
	case "attribute_not_exists(" + dynamoUpdatedAttr + ")":
		if _, ok := cur[dynamoUpdatedAttr]; ok {
			return nil, failed
		}
	case "#u = :prev":
		if strAttr(cur[dynamoUpdatedAttr]) != strAttr(in.ExpressionAttributeValues[":prev"]) {
			return nil, failed
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func TestDynamo_Contract(t *testing.T) {
	runStoreContract(t, NewDynamo[models.PolicyRequest](newFakeDynamo(), "requests"))
	runSameKeyRace(t, NewDynamo[models.PolicyRequest](newFakeDynamo(), "requests"))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoKeyAttr     = "pk"
	dynamoSeqAttr     = "seq"
	dynamoUpdatedAttr = "updatedAt"
	dynamoMaxRetries  = 3
)

// DynamoAPI 是 Dynamo 用到的 *dynamodb.Client 方法子集，便于测试替换。
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo 每个集合一张表，分区键 pk 为记录主键。属性名沿用记录的 json 标签。
// Update 以读取时的 updatedAt 作为条件写入（乐观并发），冲突时重新读取后重试；
// 重试时 fn 会看到对方已写入的状态，从而由状态前置条件拒绝重复决定。
type Dynamo[T any, P Doc[T]] struct {
	db    DynamoAPI
	table string
	now   func() time.Time
}

// NewDynamo 使用 table 作为集合表。
func NewDynamo[T any, P Doc[T]](db DynamoAPI, table string) *Dynamo[T, P] {
	return &Dynamo[T, P]{db: db, table: table, now: time.Now}
}

func withJSONTags(o *attributevalue.EncoderOptions) { o.TagKey = "json" }
func fromJSONTags(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

func (s *Dynamo[T, P]) List(ctx context.Context) ([]T, error) {
	type row struct {
		seq int64
		rec T
	}
	var rows []row
	var start map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", s.table, err)
		}
		for _, item := range out.Items {
			rec, err := s.decode(item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row{seq: seqOf(item), rec: rec})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	recs := make([]T, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.rec)
	}
	return recs, nil
}

func (s *Dynamo[T, P]) Get(ctx context.Context, key string) (T, error) {
	rec, _, err := s.get(ctx, key)
	return rec, err
}

func (s *Dynamo[T, P]) get(ctx context.Context, key string) (T, map[string]types.AttributeValue, error) {
	var zero T
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{dynamoKeyAttr: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, nil, fmt.Errorf("store: get %s/%s: %w", s.table, key, err)
	}
	if len(out.Item) == 0 {
		return zero, nil, ErrNotFound
	}
	rec, err := s.decode(out.Item)
	return rec, out.Item, err
}

func (s *Dynamo[T, P]) Append(ctx context.Context, rec T) (T, error) {
	var zero T
	now := s.now()
	P(&rec).Init(now)
	item, err := s.encode(rec)
	if err != nil {
		return zero, err
	}
	item[dynamoSeqAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + dynamoKeyAttr + ")"),
	})
	if isConditionFailed(err) {
		return zero, ErrDuplicate
	}
	if err != nil {
		return zero, fmt.Errorf("store: put %s/%s: %w", s.table, P(&rec).Key(), err)
	}
	return rec, nil
}

func (s *Dynamo[T, P]) Update(ctx context.Context, key string, fn func(*T) error) (T, error) {
	var zero T
	for attempt := 0; attempt < dynamoMaxRetries; attempt++ {
		cur, prev, err := s.get(ctx, key)
		if err != nil {
			return zero, err
		}
		if err := fn(&cur); err != nil {
			return zero, err
		}
		P(&cur).Touch(s.now())
		item, err := s.encode(cur)
		if err != nil {
			return zero, err
		}
		if seq, ok := prev[dynamoSeqAttr]; ok {
			item[dynamoSeqAttr] = seq
		}
		in := &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		}
		if old, ok := prev[dynamoUpdatedAttr]; ok {
			in.ConditionExpression = aws.String("#u = :prev")
			in.ExpressionAttributeNames = map[string]string{"#u": dynamoUpdatedAttr}
			in.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": old}
		} else {
			in.ConditionExpression = aws.String("attribute_not_exists(" + dynamoUpdatedAttr + ")")
		}
		_, err = s.db.PutItem(ctx, in)
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return zero, fmt.Errorf("store: put %s/%s: %w", s.table, key, err)
		}
		return cur, nil
	}
	return zero, ErrConflict
}

func (s *Dynamo[T, P]) encode(rec T) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMapWithOptions(rec, withJSONTags)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	item[dynamoKeyAttr] = &types.AttributeValueMemberS{Value: P(&rec).Key()}
	return item, nil
}

func (s *Dynamo[T, P]) decode(item map[string]types.AttributeValue) (T, error) {
	var rec T
	if err := attributevalue.UnmarshalMapWithOptions(item, &rec, fromJSONTags); err != nil {
		return rec, fmt.Errorf("store: decode %s: %w", s.table, err)
	}
	return rec, nil
}

func seqOf(item map[string]types.AttributeValue) int64 {
	n, ok := item[dynamoSeqAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

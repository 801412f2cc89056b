package dynamo

import (
	"context"
	"errors"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a single-table in-memory mock keyed by "pk".
// Scan pages through items in key order, pageSize at a time, and applies the
// "#v = :v" filter after paging like DynamoDB does.
type mockDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int

	// eventualReads counts GetItem and Scan calls without ConsistentRead.
	eventualReads int

	// unprocessedOnce makes the first BatchWriteItem call report every request as unprocessed.
	unprocessedOnce bool
	batchCalls      int
	failPuts        bool
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items:    map[string]map[string]types.AttributeValue{},
		pageSize: 3,
	}
}

func pkOf(m map[string]types.AttributeValue) (string, error) {
	v, ok := m["pk"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing pk")
	}
	return v.Value, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.ConsistentRead == nil || !*params.ConsistentRead {
		m.eventualReads++
	}
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: m.items[pk]}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	existing, exists := m.items[pk]
	if params.ConditionExpression != nil {
		switch *params.ConditionExpression {
		case "attribute_not_exists(pk)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#v = :prev":
			if !exists || !sameString(existing["version"], params.ExpressionAttributeValues[":prev"]) {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unsupported condition: " + *params.ConditionExpression)
		}
	}
	m.items[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (m *mockDynamo) BatchWriteItem(ctx context.Context, params *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.unprocessedOnce {
		m.unprocessedOnce = false
		return &dyn.BatchWriteItemOutput{UnprocessedItems: params.RequestItems}, nil
	}
	for _, reqs := range params.RequestItems {
		if len(reqs) > batchSize {
			return nil, errors.New("too many items in batch")
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				if m.failPuts {
					return nil, errors.New("put rejected")
				}
				pk, err := pkOf(r.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				m.items[pk] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				pk, err := pkOf(r.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(m.items, pk)
			}
		}
	}
	return &dyn.BatchWriteItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.ConsistentRead == nil || !*params.ConsistentRead {
		m.eventualReads++
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last, err := pkOf(params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		// the last key may have been deleted since the previous page
		start = sort.SearchStrings(keys, last)
		if start < len(keys) && keys[start] == last {
			start++
		}
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		item := m.items[k]
		if params.FilterExpression != nil {
			if *params.FilterExpression != "#v = :v" {
				return nil, errors.New("unsupported filter: " + *params.FilterExpression)
			}
			if !sameString(item["version"], params.ExpressionAttributeValues[":v"]) {
				continue
			}
		}
		out.Items = append(out.Items, item)
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func sameString(a, b types.AttributeValue) bool {
	as, ok := a.(*types.AttributeValueMemberS)
	if !ok {
		return false
	}
	bs, ok := b.(*types.AttributeValueMemberS)
	return ok && as.Value == bs.Value
}

// countKind returns how many stored items have the given kind.
func (m *mockDynamo) countKind(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if k, ok := item["kind"].(*types.AttributeValueMemberS); ok && k.Value == kind {
			n++
		}
	}
	return n
}

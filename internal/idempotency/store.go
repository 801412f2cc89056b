package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-sales-reports/internal/aws"
)

// takeoverCondition guards Retry: the run failed, or its lease ran out.
const takeoverCondition = "#s = :failed OR (#s = :inprogress AND lease_until < :now)"

// Store tracks report runs in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a run record is kept
	lease     time.Duration // how long an IN_PROGRESS run is protected from takeover
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long records stay before DynamoDB TTL removes them (e.g., 48*time.Hour)
// lease: how long a claimed run may stay IN_PROGRESS before a redelivery may
// take it over; it should exceed the handler timeout.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow, lease time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     lease,
		nowFunc:   time.Now,
	}
}

// Begin records an IN_PROGRESS run for eventID if none exists.
// Returns (true, nil) if this caller owns the run.
// Returns (false, nil) if a record already exists (caller should Get to inspect).
func (s *Store) Begin(ctx context.Context, eventID, runID string) (bool, error) {
	now := s.nowFunc()
	rec := RunRecord{
		EventID:    eventID,
		Status:     StatusInProgress,
		RunID:      runID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.ttlWindow).Unix(),
		LeaseUntil: now.Add(s.lease).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Retry takes over a FAILED run for eventID, or an IN_PROGRESS run whose
// lease has expired, and grants runID a fresh lease. It returns false if the
// run can no longer be taken over: someone else took it, it completed, or
// its lease is still live.
func (s *Store) Retry(ctx context.Context, eventID, runID string) (bool, error) {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(eventID),
		UpdateExpression:    awsString("SET #s = :inprogress, run_id = :rid, updated_at = :ua, lease_until = :lease"),
		ConditionExpression: awsString(takeoverCondition),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":rid":        &types.AttributeValueMemberS{Value: runID},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":now":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":lease":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.lease).Unix(), 10)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return false, nil
		}
		return false, fmt.Errorf("update item (retry): %w", err)
	}
	return true, nil
}

// Get retrieves the run record for eventID. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, eventID string) (*RunRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key(eventID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores a short summary of the run.
func (s *Store) MarkDone(ctx context.Context, eventID, summary string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(eventID),
		UpdateExpression: awsString("SET #s = :done, summary = :sum, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":sum":  &types.AttributeValueMemberS{Value: summary},
			":ua":   &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the run as FAILED with a note so a redelivery can retry it.
func (s *Store) MarkFailed(ctx context.Context, eventID, note string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(eventID),
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func key(eventID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: eventID},
	}
}

func awsString(s string) *string { return &s }

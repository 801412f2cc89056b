// Package dynamo stores sales datasets in a single DynamoDB table.
//
// Every save writes a new version of the dataset: one item per entity keyed
// "DS#<version>#<ENTITY>#<id>" (e.g. DS#9f1c...#ORDER#101). Once all items are
// written, the META#dataset item is switched to the new version with a single
// conditional PutItem. Readers resolve META first and only read items of that
// version, so a reader never sees a mix of two datasets. Items of replaced
// versions are deleted after the switch.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-sales-reports/internal/aws"
	"github.com/imrishuroy/go-sales-reports/internal/orders"
)

const (
	kindMeta     = "meta"
	kindCustomer = "customer"
	kindOrder    = "order"
	kindProduct  = "product"
	kindItem     = "order_item"

	metaPK = "META#dataset"

	dateLayout = "2006-01-02"

	// BatchWriteItem accepts at most 25 requests.
	batchSize = 25
	// unprocessed items are retried this many times before giving up
	maxBatchAttempts = 5
	// a read that keeps losing the race against saves gives up after this many tries
	maxReadAttempts = 3
	// items of an unpublished version older than this belong to an abandoned save
	orphanGrace = time.Hour
)

// ErrConcurrentSave is returned by SaveDataset when another writer switched
// the current version while this save was writing its items.
var ErrConcurrentSave = errors.New("dataset replaced by a concurrent save")

// record is the item shape for every entity kind; unused fields are omitted.
type record struct {
	PK         string `dynamodbav:"pk"`
	Kind       string `dynamodbav:"kind"`
	Version    string `dynamodbav:"version,omitempty"`
	SavedAt    string `dynamodbav:"saved_at,omitempty"`
	Entities   int    `dynamodbav:"entities,omitempty"` // meta only: items in the version
	ID         int64  `dynamodbav:"id,omitempty"`
	Name       string `dynamodbav:"name,omitempty"`
	Email      string `dynamodbav:"email,omitempty"`
	Region     string `dynamodbav:"region,omitempty"`
	CustomerID int64  `dynamodbav:"customer_id,omitempty"`
	Amount     string `dynamodbav:"amount,omitempty"` // decimal string, two places
	OrderDate  string `dynamodbav:"order_date,omitempty"`
	Status     string `dynamodbav:"status,omitempty"`
	Price      string `dynamodbav:"price,omitempty"`
	Category   string `dynamodbav:"category,omitempty"`
	Seq        int    `dynamodbav:"seq,omitempty"`
	OrderID    int64  `dynamodbav:"order_id,omitempty"`
	ProductID  int64  `dynamodbav:"product_id,omitempty"`
	Quantity   int    `dynamodbav:"quantity,omitempty"`
}

// Store encapsulates dataset operations on the sales table.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	logger     *slog.Logger
	nowFunc    func() time.Time
	newVersion func() string
	backoff    time.Duration
}

// NewStore creates a new Store on tableName. A nil logger uses slog.Default().
func NewStore(client aws.DynamoDBAPI, tableName string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:     client,
		tableName:  tableName,
		logger:     logger,
		nowFunc:    time.Now,
		newVersion: uuid.NewString,
		backoff:    100 * time.Millisecond,
	}
}

// SaveDataset writes ds as a new version and makes it the current one.
// On error the previously current version stays readable.
func (s *Store) SaveDataset(ctx context.Context, ds orders.Dataset) error {
	prev, err := s.current(ctx)
	if err != nil {
		return err
	}

	version := s.newVersion()
	savedAt := s.nowFunc().UTC()
	records := toRecords(version, savedAt, ds)
	puts := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		item, err := attributevalue.MarshalMap(r)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", r.PK, err)
		}
		puts = append(puts, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := s.writeBatches(ctx, puts); err != nil {
		s.discard(ctx, version, records)
		return err
	}

	if err := s.publish(ctx, prev.Version, record{
		PK:       metaPK,
		Kind:     kindMeta,
		Version:  version,
		SavedAt:  savedAt.Format(time.RFC3339),
		Entities: len(records),
	}); err != nil {
		s.discard(ctx, version, records)
		return err
	}

	if err := s.collect(ctx, version, prev.Version); err != nil {
		// the new version is live; leftovers go with the next save
		s.logger.Warn("collect replaced dataset versions", "table", s.tableName, "error", err)
	}
	return nil
}

// LoadDataset reads the current version. Returns (nil, nil) if no dataset was
// ever saved. A read that overlaps a save is retried against the new version.
func (s *Store) LoadDataset(ctx context.Context) (*orders.Dataset, error) {
	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		meta, err := s.current(ctx)
		if err != nil {
			return nil, err
		}
		if meta.Version == "" {
			return nil, nil
		}

		ds, n, err := s.readVersion(ctx, meta.Version)
		if err != nil {
			return nil, err
		}

		after, err := s.current(ctx)
		if err != nil {
			return nil, err
		}
		if after.Version != meta.Version {
			s.logger.Debug("dataset replaced during read", "version", meta.Version, "attempt", attempt)
			continue
		}
		if n != meta.Entities {
			return nil, fmt.Errorf("dataset version %s: read %d of %d items", meta.Version, n, meta.Entities)
		}
		return ds, nil
	}
	return nil, fmt.Errorf("dataset kept changing during read (%d attempts)", maxReadAttempts)
}

// Close is a no-op; the DynamoDB client holds no per-store resources.
func (s *Store) Close() error { return nil }

// current returns the META item with a strongly consistent read. The zero
// record means nothing was saved yet.
func (s *Store) current(ctx context.Context) (record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            pkKey(metaPK),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return record{}, fmt.Errorf("get dataset pointer: %w", err)
	}
	var meta record
	if len(out.Item) == 0 {
		return meta, nil
	}
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return record{}, fmt.Errorf("unmarshal dataset pointer: %w", err)
	}
	return meta, nil
}

// publish switches META to the new version, provided it still points at prev.
func (s *Store) publish(ctx context.Context, prev string, meta record) error {
	item, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return fmt.Errorf("marshal dataset pointer: %w", err)
	}
	in := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(pk)"),
	}
	if prev != "" {
		in.ConditionExpression = awsString("#v = :prev")
		in.ExpressionAttributeNames = map[string]string{"#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: prev},
		}
	}
	if _, err := s.client.PutItem(ctx, in); err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrConcurrentSave
		}
		return fmt.Errorf("put dataset pointer: %w", err)
	}
	return nil
}

func (s *Store) readVersion(ctx context.Context, version string) (*orders.Dataset, int, error) {
	var (
		ds   orders.Dataset
		seqs []int
		n    int
	)
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                &s.tableName,
		ConsistentRead:           awsBool(true),
		FilterExpression:         awsString("#v = :v"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: version},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		for _, item := range page.Items {
			var r record
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, 0, fmt.Errorf("unmarshal item: %w", err)
			}
			switch r.Kind {
			case kindCustomer:
				ds.Customers = append(ds.Customers, orders.Customer{ID: r.ID, Name: r.Name, Email: r.Email, Region: r.Region})
			case kindOrder:
				o, err := r.order()
				if err != nil {
					return nil, 0, err
				}
				ds.Orders = append(ds.Orders, o)
			case kindProduct:
				price, err := decimal.NewFromString(r.Price)
				if err != nil {
					return nil, 0, fmt.Errorf("%s: parse price: %w", r.PK, err)
				}
				ds.Products = append(ds.Products, orders.Product{ID: r.ID, Name: r.Name, Price: price, Category: r.Category})
			case kindItem:
				ds.OrderItems = append(ds.OrderItems, orders.OrderItem{OrderID: r.OrderID, ProductID: r.ProductID, Quantity: r.Quantity})
				seqs = append(seqs, r.Seq)
			default:
				continue
			}
			n++
		}
	}

	// scan order is arbitrary
	sort.Slice(ds.Customers, func(i, j int) bool { return ds.Customers[i].ID < ds.Customers[j].ID })
	sort.Slice(ds.Orders, func(i, j int) bool { return ds.Orders[i].ID < ds.Orders[j].ID })
	sort.Slice(ds.Products, func(i, j int) bool { return ds.Products[i].ID < ds.Products[j].ID })
	sort.Sort(itemsBySeq{items: ds.OrderItems, seqs: seqs})
	return &ds, n, nil
}

// collect deletes the items of prev and of abandoned versions, keeping
// current. Unpublished versions younger than orphanGrace may belong to a save
// still in flight and are left alone.
func (s *Store) collect(ctx context.Context, current, prev string) error {
	cutoff := s.nowFunc().Add(-orphanGrace)
	var reqs []types.WriteRequest
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                &s.tableName,
		ConsistentRead:           awsBool(true),
		ProjectionExpression:     awsString("pk, #v, saved_at"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		for _, item := range page.Items {
			var r record
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return fmt.Errorf("unmarshal key: %w", err)
			}
			if r.PK == metaPK || r.Version == current {
				continue
			}
			if r.Version == prev || abandoned(r.SavedAt, cutoff) {
				reqs = append(reqs, deleteRequest(r.PK))
			}
		}
	}
	if len(reqs) > 0 {
		s.logger.Debug("collecting replaced dataset items", "items", len(reqs), "previous_version", prev)
	}
	return s.writeBatches(ctx, reqs)
}

// discard removes the items of a version that never became current.
func (s *Store) discard(ctx context.Context, version string, records []record) {
	reqs := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		reqs = append(reqs, deleteRequest(r.PK))
	}
	if err := s.writeBatches(ctx, reqs); err != nil {
		s.logger.Warn("discard unpublished dataset version", "version", version, "error", err)
	}
}

// writeBatches issues BatchWriteItem calls of at most batchSize requests,
// resubmitting unprocessed items with linear backoff.
func (s *Store) writeBatches(ctx context.Context, reqs []types.WriteRequest) error {
	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		pending := reqs[start:end]
		for attempt := 1; len(pending) > 0; attempt++ {
			if attempt > maxBatchAttempts {
				return fmt.Errorf("batch write: %d items unprocessed after %d attempts", len(pending), maxBatchAttempts)
			}
			out, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: pending},
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			pending = out.UnprocessedItems[s.tableName]
			if len(pending) > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * s.backoff):
				}
			}
		}
	}
	return nil
}

func toRecords(version string, savedAt time.Time, ds orders.Dataset) []record {
	stamp := savedAt.Format(time.RFC3339)
	pk := func(entity string, id int64) string {
		return fmt.Sprintf("DS#%s#%s#%d", version, entity, id)
	}

	out := make([]record, 0, len(ds.Customers)+len(ds.Orders)+len(ds.Products)+len(ds.OrderItems))
	for _, c := range ds.Customers {
		out = append(out, record{
			PK: pk("CUSTOMER", c.ID), Kind: kindCustomer, Version: version, SavedAt: stamp,
			ID: c.ID, Name: c.Name, Email: c.Email, Region: c.Region,
		})
	}
	for _, o := range ds.Orders {
		out = append(out, record{
			PK: pk("ORDER", o.ID), Kind: kindOrder, Version: version, SavedAt: stamp,
			ID: o.ID, CustomerID: o.CustomerID, Amount: o.Amount.StringFixed(2),
			OrderDate: o.OrderDate.Format(dateLayout), Status: string(o.Status),
		})
	}
	for _, p := range ds.Products {
		out = append(out, record{
			PK: pk("PRODUCT", p.ID), Kind: kindProduct, Version: version, SavedAt: stamp,
			ID: p.ID, Name: p.Name, Price: p.Price.StringFixed(2), Category: p.Category,
		})
	}
	for i, it := range ds.OrderItems {
		out = append(out, record{
			PK: fmt.Sprintf("DS#%s#ITEM#%08d", version, i), Kind: kindItem, Version: version, SavedAt: stamp,
			Seq: i, OrderID: it.OrderID, ProductID: it.ProductID, Quantity: it.Quantity,
		})
	}
	return out
}

func (r record) order() (orders.Order, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return orders.Order{}, fmt.Errorf("%s: parse amount: %w", r.PK, err)
	}
	date, err := time.Parse(dateLayout, r.OrderDate)
	if err != nil {
		return orders.Order{}, fmt.Errorf("%s: parse order_date: %w", r.PK, err)
	}
	return orders.Order{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Amount:     amount,
		OrderDate:  date,
		Status:     orders.Status(r.Status),
	}, nil
}

// abandoned reports whether an item stamped savedAt predates cutoff. Items
// without a readable stamp count as abandoned.
func abandoned(savedAt string, cutoff time.Time) bool {
	t, err := time.Parse(time.RFC3339, savedAt)
	return err != nil || t.Before(cutoff)
}

func pkKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func deleteRequest(pk string) types.WriteRequest {
	return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: pkKey(pk)}}
}

type itemsBySeq struct {
	items []orders.OrderItem
	seqs  []int
}

func (s itemsBySeq) Len() int           { return len(s.items) }
func (s itemsBySeq) Less(i, j int) bool { return s.seqs[i] < s.seqs[j] }
func (s itemsBySeq) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.seqs[i], s.seqs[j] = s.seqs[j], s.seqs[i]
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

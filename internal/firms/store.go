package firms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store is the durable home of firm records. The registry actor is its only
// writer; uniqueness lives in the actor, not the table.
type Store interface {
	Get(ctx context.Context, firmID string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	// ScanAll returns every firm. Called once at startup to rebuild the
	// registry's uniqueness maps.
	ScanAll(ctx context.Context) ([]Record, error)
}

// ErrVersionConflict means another writer advanced the record; with a single
// registry actor this indicates an operational fault.
var ErrVersionConflict = errors.New("firms: record version conflict")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore persists firm records to DynamoDB, one item per firm.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoStore builds a store over the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("firms: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("firms: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName}
}

var _ Store = (*DynamoStore)(nil)

func (s *DynamoStore) Get(ctx context.Context, firmID string) (*Record, error) {
	if firmID == "" {
		return nil, ErrFirmNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"firmId": &types.AttributeValueMemberS{Value: firmID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("firms: failed to fetch firm: %w", err)
	}
	if out.Item == nil {
		return nil, ErrFirmNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("firms: failed to decode firm: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("firms: record cannot be nil")
	}
	loadedVersion := rec.Version
	rec.Version = loadedVersion + 1

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		rec.Version = loadedVersion
		return fmt.Errorf("firms: failed to marshal firm: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if loadedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(firmId)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", loadedVersion)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		rec.Version = loadedVersion
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrVersionConflict
		}
		return fmt.Errorf("firms: failed to persist firm: %w", err)
	}
	return nil
}

func (s *DynamoStore) ScanAll(ctx context.Context) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("firms: failed to scan firms: %w", err)
		}
		for _, item := range out.Items {
			var rec Record
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("firms: failed to decode firm during scan: %w", err)
			}
			records = append(records, rec)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

// MemoryStore keeps firm records in memory for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record

	// PutErr, when set, fails the next Put.
	PutErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(_ context.Context, firmID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[firmID]
	if !ok {
		return nil, ErrFirmNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	if m.PutErr != nil {
		err := m.PutErr
		m.PutErr = nil
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[rec.FirmID]
	if ok && existing.Version != rec.Version {
		return ErrVersionConflict
	}
	if !ok && rec.Version != 0 {
		return ErrVersionConflict
	}
	rec.Version++
	m.records[rec.FirmID] = rec.Clone()
	return nil
}

func (m *MemoryStore) ScanAll(context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec.Clone())
	}
	return out, nil
}

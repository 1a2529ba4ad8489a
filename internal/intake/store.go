package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

const (
	resumeTokenIndex = "resumeToken-index"
	firmIndex        = "firmId-index"
)

// StateStore is the private durable store behind each conversation actor.
type StateStore interface {
	// Load fetches the record or fails with ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*State, error)
	// Save writes the whole record atomically, conditional on the version
	// it was loaded at. The stored version is bumped on success.
	Save(ctx context.Context, st *State) error
	// FindByResumeToken resolves a resume token to a session or fails with
	// ErrInvalidResumeToken.
	FindByResumeToken(ctx context.Context, token string) (*State, error)
	// ListByFirm returns every conversation owned by a firm. Used by the
	// index repair pass, never on the request path.
	ListByFirm(ctx context.Context, firmID string) ([]State, error)
}

// ErrVersionConflict means another writer advanced the record. The actor
// serializes all writes per session, so this indicates an operational fault.
var ErrVersionConflict = errors.New("intake: state version conflict")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStateStore persists conversation records to DynamoDB, one item per
// session. Resume-token and firm lookups go through global secondary indexes.
type DynamoStateStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewDynamoStateStore builds a store backed by the provided DynamoDB client.
func NewDynamoStateStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStateStore {
	if client == nil {
		panic("intake: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("intake: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStateStore{client: client, tableName: tableName, logger: logger}
}

var _ StateStore = (*DynamoStateStore)(nil)

func (s *DynamoStateStore) Load(ctx context.Context, sessionID string) (*State, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("intake: failed to fetch conversation: %w", err)
	}
	if out.Item == nil {
		return nil, ErrSessionNotFound
	}

	var st State
	if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
		return nil, fmt.Errorf("intake: failed to decode conversation: %w", err)
	}
	return &st, nil
}

func (s *DynamoStateStore) Save(ctx context.Context, st *State) error {
	if st == nil {
		return errors.New("intake: state cannot be nil")
	}
	loadedVersion := st.Version
	st.Version = loadedVersion + 1

	item, err := attributevalue.MarshalMap(st)
	if err != nil {
		st.Version = loadedVersion
		return fmt.Errorf("intake: failed to marshal conversation: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if loadedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(sessionId)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", loadedVersion)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		st.Version = loadedVersion
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrVersionConflict
		}
		return fmt.Errorf("intake: failed to persist conversation: %w", err)
	}
	return nil
}

func (s *DynamoStateStore) FindByResumeToken(ctx context.Context, token string) (*State, error) {
	if token == "" {
		return nil, ErrInvalidResumeToken
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(resumeTokenIndex),
		KeyConditionExpression: aws.String("resumeToken = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("intake: failed to resolve resume token: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrInvalidResumeToken
	}

	var st State
	if err := attributevalue.UnmarshalMap(out.Items[0], &st); err != nil {
		return nil, fmt.Errorf("intake: failed to decode conversation: %w", err)
	}
	// The GSI is eventually consistent; re-read the base table so the actor
	// starts from the authoritative record.
	return s.Load(ctx, st.SessionID)
}

func (s *DynamoStateStore) ListByFirm(ctx context.Context, firmID string) ([]State, error) {
	if firmID == "" {
		return nil, ErrMissingFirmID
	}

	var states []State
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(firmIndex),
			KeyConditionExpression: aws.String("firmId = :firm"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":firm": &types.AttributeValueMemberS{Value: firmID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("intake: failed to list firm conversations: %w", err)
		}
		for _, item := range out.Items {
			var st State
			if err := attributevalue.UnmarshalMap(item, &st); err != nil {
				s.logger.Error("skipping undecodable conversation item", "error", err)
				continue
			}
			states = append(states, st)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return states, nil
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"expense-bot/internal/domain"
)

const (
	skPending   = "PENDING#"
	ttlDuration = 7 * 24 * time.Hour // abandoned candidates expire after a week
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoPendingStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoPendingStore keeps one pending expense item per conversation so
// candidates survive Lambda cold starts.
type DynamoPendingStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoPendingStore creates a store backed by tableName.
func NewDynamoPendingStore(api dynamodbAPI, tableName string) (*DynamoPendingStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoPendingStore{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func pendingKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: skPending},
	}
}

// Get reads the conversation's pending expense. Items past their TTL are
// treated as absent since DynamoDB deletes expired items lazily.
func (s *DynamoPendingStore) Get(ctx context.Context, conversationID string) (domain.PendingExpense, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            pendingKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.PendingExpense{}, false, fmt.Errorf("repository: Get pending: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.PendingExpense{}, false, nil
	}
	if ttl, err := intAttr(out.Item, "ttl"); err == nil && ttl > 0 && s.now().Unix() > ttl {
		return domain.PendingExpense{}, false, nil
	}

	p, err := itemToPending(out.Item)
	if err != nil {
		return domain.PendingExpense{}, false, fmt.Errorf("repository: Get pending unmarshal: %w", err)
	}
	return p, true, nil
}

// Put writes or replaces the conversation's pending expense.
func (s *DynamoPendingStore) Put(ctx context.Context, p domain.PendingExpense) error {
	if strings.TrimSpace(p.ConversationID) == "" {
		return errors.New("repository: Put pending: conversation id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      pendingItem(p, s.now().Add(ttlDuration).Unix()),
	})
	if err != nil {
		return fmt.Errorf("repository: Put pending: %w", err)
	}
	return nil
}

// Delete removes the conversation's pending expense; deleting nothing is not an error.
func (s *DynamoPendingStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       pendingKey(conversationID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete pending: %w", err)
	}
	return nil
}

// Claim deletes the pending item only while it still carries token. A
// failed condition means another confirm or a correction got there first.
func (s *DynamoPendingStore) Claim(ctx context.Context, conversationID, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, errors.New("repository: Claim pending: token is required")
	}
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 pendingKey(conversationID),
		ConditionExpression: aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]string{
			"#token": "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("repository: Claim pending: %w", err)
	}
	return true, nil
}

func pendingItem(p domain.PendingExpense, ttl int64) map[string]types.AttributeValue {
	item := pendingKey(p.ConversationID)
	item["conversationId"] = &types.AttributeValueMemberS{Value: p.ConversationID}
	item["date"] = &types.AttributeValueMemberS{Value: p.Record.Date}
	item["description"] = &types.AttributeValueMemberS{Value: p.Record.Description}
	// amount is stored as a string to keep the exact decimal representation.
	item["amount"] = &types.AttributeValueMemberS{Value: p.Record.Amount.String()}
	item["currency"] = &types.AttributeValueMemberS{Value: p.Record.Currency}
	item["cash"] = &types.AttributeValueMemberBOOL{Value: p.Record.Cash}
	item["user"] = &types.AttributeValueMemberS{Value: p.Record.User}
	item["summary"] = &types.AttributeValueMemberS{Value: p.Summary}
	item["token"] = &types.AttributeValueMemberS{Value: p.Token}
	item["createdAt"] = &types.AttributeValueMemberS{Value: p.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)}
	return item
}

// itemToPending converts a DynamoDB attribute map to a PendingExpense.
func itemToPending(item map[string]types.AttributeValue) (domain.PendingExpense, error) {
	var p domain.PendingExpense
	var err error
	if p.ConversationID, err = strAttr(item, "conversationId"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Record.Date, err = strAttr(item, "date"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Record.Description, err = strAttr(item, "description"); err != nil {
		return domain.PendingExpense{}, err
	}
	amount, err := strAttr(item, "amount")
	if err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Record.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.PendingExpense{}, fmt.Errorf("repository: parse attribute %q: %w", "amount", err)
	}
	if p.Record.Currency, err = strAttr(item, "currency"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Record.Cash, err = boolAttr(item, "cash"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Record.User, err = strAttr(item, "user"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Summary, err = strAttr(item, "summary"); err != nil {
		return domain.PendingExpense{}, err
	}
	if p.Token, err = strAttr(item, "token"); err != nil {
		return domain.PendingExpense{}, err
	}
	if created, err := strAttr(item, "createdAt"); err == nil {
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) // allow legacy items without it
	}
	return p, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

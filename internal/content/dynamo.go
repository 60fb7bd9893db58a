package content

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

// DynamoDB key constants for the single-table design. All items share one
// partition so a single Query returns the whole collection.
const (
	pkContent  = "CONTENT"
	skItemPref = "ITEM#"
)

// dynamoAPI is the subset of *dynamodb.Client used by DynamoRepository.
type dynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoRepository implements Repository on AWS DynamoDB.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var _ Repository = (*DynamoRepository)(nil)

// NewDynamoRepository creates a DynamoRepository for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoRepository(client dynamoAPI, tableName string) *DynamoRepository {
	return &DynamoRepository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// itemRecord is the stored shape of an Item. PK/SK are added on write.
type itemRecord struct {
	ID           string            `dynamodbav:"id"`
	Title        map[string]string `dynamodbav:"title,omitempty"`
	Description  map[string]string `dynamodbav:"description,omitempty"`
	MediaType    string            `dynamodbav:"mediaType"`
	MediaURL     string            `dynamodbav:"mediaUrl"`
	TargetGender string            `dynamodbav:"targetGender"`
	TargetAgeMin *int              `dynamodbav:"targetAgeMin,omitempty"`
	TargetAgeMax *int              `dynamodbav:"targetAgeMax,omitempty"`
	CreatedAt    int64             `dynamodbav:"createdAt"` // unix millis
}

func toRecord(it Item) itemRecord {
	return itemRecord{
		ID:           it.ID,
		Title:        textToMap(it.Title),
		Description:  textToMap(it.Description),
		MediaType:    string(it.MediaType),
		MediaURL:     it.MediaURL,
		TargetGender: string(it.TargetGender),
		TargetAgeMin: it.TargetAgeMin,
		TargetAgeMax: it.TargetAgeMax,
		CreatedAt:    it.CreatedAt.UnixMilli(),
	}
}

func (r itemRecord) item() Item {
	return Item{
		ID:           r.ID,
		Title:        mapToText(r.Title),
		Description:  mapToText(r.Description),
		MediaType:    media.Kind(r.MediaType),
		MediaURL:     r.MediaURL,
		TargetGender: TargetGender(r.TargetGender).Normalize(),
		TargetAgeMin: r.TargetAgeMin,
		TargetAgeMax: r.TargetAgeMax,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
	}
}

func textToMap(t locale.Text) map[string]string {
	if len(t) == 0 {
		return nil
	}
	m := make(map[string]string, len(t))
	for k, v := range t {
		m[string(k)] = v
	}
	return m
}

func mapToText(m map[string]string) locale.Text {
	if len(m) == 0 {
		return nil
	}
	t := make(locale.Text, len(m))
	for k, v := range m {
		t[locale.Locale(k)] = v
	}
	return t
}

// --- Repository operations ---

func (s *DynamoRepository) List(ctx context.Context) ([]Item, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pkContent},
			":skPrefix": &types.AttributeValueMemberS{Value: skItemPref},
		},
		ScanIndexForward: aws.Bool(false),
	}

	var items []Item
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: Query PK=%s: %w", ErrUnavailable, pkContent, err)
		}
		for _, raw := range result.Items {
			var rec itemRecord
			if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
				log.Warn().Err(err).Msg("Skipping undecodable content record")
				continue
			}
			items = append(items, rec.item())
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	// Sort keys are time ordered, but records written by other tools may
	// carry their own createdAt.
	sortNewestFirst(items)
	return items, nil
}

func (s *DynamoRepository) Insert(ctx context.Context, d Draft) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	it := d.Item(id.String(), s.now().UTC().Truncate(time.Millisecond))

	item, err := attributevalue.MarshalMap(toRecord(it))
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	sk := skItemPref + it.ID
	item["PK"] = &types.AttributeValueMemberS{Value: pkContent}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: PutItem SK=%s: %w", ErrUnavailable, sk, err)
	}

	log.Debug().Str("id", it.ID).Str("media_type", string(it.MediaType)).Msg("Content item stored")
	return it.ID, nil
}

// Delete removes the item. DeleteItem on a missing key succeeds, which
// gives the idempotent contract for free.
func (s *DynamoRepository) Delete(ctx context.Context, id string) error {
	sk := skItemPref + id
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkContent},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: DeleteItem SK=%s: %w", ErrUnavailable, sk, err)
	}
	return nil
}

// Package orders owns order records and the checkout flow that creates them.
package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/aws"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

func decode(item map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Create inserts a new order; the id must not exist yet.
func (s *Store) Create(ctx context.Context, o Order) error {
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return apperr.Conflict("order already exists")
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, apperr.NotFound("Order not found")
	}
	return decode(out.Item)
}

// List returns up to limit orders, newest first. An empty status matches all.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Order, error) {
	var all []Order
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		for _, item := range out.Items {
			o, err := decode(item)
			if err != nil {
				return nil, err
			}
			if status == "" || o.Status == status {
				all = append(all, *o)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []Order{}
	}
	return all, nil
}

// setField overwrites one string attribute on an existing order and returns the new item.
func (s *Store) setField(ctx context.Context, orderID, attr, value string) (*Order, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #f = :v, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#f": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":  &types.AttributeValueMemberS{Value: value},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, apperr.NotFound("Order not found")
		}
		return nil, fmt.Errorf("update order %s: %w", attr, err)
	}
	return decode(out.Attributes)
}

// UpdateStatus sets the fulfilment status unconditionally.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	return s.setField(ctx, orderID, "status", string(status))
}

// UpdatePaymentStatus sets the payment status unconditionally.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID string, status PaymentStatus) (*Order, error) {
	return s.setField(ctx, orderID, "payment_status", string(status))
}

// Delete removes an order.
func (s *Store) Delete(ctx context.Context, orderID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return apperr.NotFound("Order not found")
		}
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

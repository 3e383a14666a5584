// Package catalog owns the product records.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/aws"
)

// updateAttempts bounds the optimistic retry loop in Update.
const updateAttempts = 3

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore creates a products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: id},
	}
}

func decode(item map[string]types.AttributeValue) (*Product, error) {
	var p Product
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	p.InStock = p.Stock > 0
	if p.Images == nil {
		p.Images = []string{}
	}
	return &p, nil
}

// List returns one page of products matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter, pg Page) (ListResult, error) {
	pg, err := pg.normalize()
	if err != nil {
		return ListResult{}, err
	}

	var all []Product
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return ListResult{}, fmt.Errorf("scan products: %w", err)
		}
		for _, item := range out.Items {
			p, err := decode(item)
			if err != nil {
				return ListResult{}, err
			}
			if f.match(*p) {
				all = append(all, *p)
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
		return all[i].ID < all[j].ID
	})

	res := ListResult{
		Items:    []Product{},
		Total:    len(all),
		Page:     pg.Page,
		PageSize: pg.PageSize,
		Pages:    (len(all) + pg.PageSize - 1) / pg.PageSize,
	}
	// compare pages before multiplying; a huge page number would overflow the offset
	if pg.Page > res.Pages {
		return res, nil
	}
	offset := (pg.Page - 1) * pg.PageSize
	end := offset + pg.PageSize
	if end > len(all) {
		end = len(all)
	}
	res.Items = all[offset:end]
	return res, nil
}

// Get fetches a product by id.
func (s *Store) Get(ctx context.Context, id string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            productKey(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, apperr.NotFound("Product not found")
	}
	return decode(out.Item)
}

// Create validates and stores a new product, applying the catalog defaults.
func (s *Store) Create(ctx context.Context, in NewProduct) (*Product, error) {
	if in.Price == nil {
		return nil, apperr.Validation("missing required fields: price")
	}
	now := s.nowFunc().UTC()
	p := Product{
		ID:             s.newID(),
		Name:           in.Name,
		Description:    in.Description,
		Price:          *in.Price,
		CompareAtPrice: in.CompareAtPrice,
		Category:       in.Category,
		Stock:          in.Stock,
		Featured:       in.Featured,
		Rating:         DefaultRating,
		Reviews:        in.Reviews,
		Image:          in.Image,
		Images:         in.Images,
		Weight:         in.Weight,
		Origin:         in.Origin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Rating != nil {
		p.Rating = *in.Rating
	}
	if p.Weight == "" {
		p.Weight = DefaultWeight
	}
	if p.Origin == "" {
		p.Origin = DefaultOrigin
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(product_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, apperr.Conflict("product id already exists")
		}
		return nil, fmt.Errorf("put product: %w", err)
	}
	return decode(item)
}

// Update applies a partial update. The write is conditioned on the stock value
// read, so a concurrent stock adjustment forces a re-read instead of being lost.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Product, error) {
	if patch.Empty() {
		return nil, apperr.Validation("No fields to update")
	}
	for attempt := 0; attempt < updateAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		readStock := cur.Stock

		next := *cur
		patch.Apply(&next)
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = s.nowFunc().UTC()
		if err := Validate(next); err != nil {
			return nil, err
		}

		item, err := attributevalue.MarshalMap(next)
		if err != nil {
			return nil, fmt.Errorf("marshal product: %w", err)
		}
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:                 &s.tableName,
			Item:                      item,
			ConditionExpression:       awsString("attribute_exists(product_id) AND stock = :read"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":read": number(readStock)},
		})
		if err == nil {
			return decode(item)
		}
		if !aws.IsConditionFailed(err) {
			return nil, fmt.Errorf("put product: %w", err)
		}
	}
	return nil, apperr.Conflict("product was modified concurrently, please retry")
}

// Delete removes a product permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 productKey(id),
		ConditionExpression: awsString("attribute_exists(product_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return apperr.NotFound("Product not found")
		}
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// AdjustStock atomically adds delta to the product's stock. A decrement only
// succeeds while stock >= -delta, so stock never goes negative.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (*Product, error) {
	cond := "attribute_exists(product_id)"
	values := map[string]types.AttributeValue{
		":d":  number(delta),
		":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	if delta < 0 {
		cond += " AND stock >= :need"
		values[":need"] = number(-delta)
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       productKey(id),
		UpdateExpression:          awsString("SET stock = stock + :d, updated_at = :ua"),
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if !aws.IsConditionFailed(err) {
			return nil, fmt.Errorf("adjust stock: %w", err)
		}
		p, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Newf(apperr.KindOutOfStock, "Insufficient stock for %s (product %s): %d available", p.Name, p.ID, p.Stock)
	}
	p, err := decode(out.Attributes)
	if err != nil {
		// the write is committed but the caller sees a failure, so undo it
		if _, undoErr := s.client.UpdateItem(context.WithoutCancel(ctx), &dyn.UpdateItemInput{
			TableName:                 &s.tableName,
			Key:                       productKey(id),
			UpdateExpression:          awsString("SET stock = stock - :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":d": number(delta)},
		}); undoErr != nil {
			return nil, fmt.Errorf("adjust stock: %w (undo failed: %v)", err, undoErr)
		}
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	return p, nil
}

func number(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

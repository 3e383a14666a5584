// Package users persists accounts in a single DynamoDB table.
//
// Items are keyed by "pk":
//
//	USER#<id>          the account
//	EMAIL#<email>      uniqueness lock pointing at the account
//	OAUTH#<provider>   external identity link
//	VERIFY#<token>     pending e-mail verification
//
// Writes touching more than one item go through TransactWriteItems.
package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/aws"
)

const (
	userPrefix   = "USER#"
	emailPrefix  = "EMAIL#"
	oauthPrefix  = "OAUTH#"
	verifyPrefix = "VERIFY#"
)

var (
	notExists = awsString("attribute_not_exists(pk)")
	exists    = awsString("attribute_exists(pk)")
)

// Store encapsulates operations on the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a users Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func key(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func marshalWithKey(pk string, v any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", pk, err)
	}
	item["pk"] = &types.AttributeValueMemberS{Value: pk}
	return item, nil
}

func (s *Store) put(pk string, v any, cond *string) (types.TransactWriteItem, error) {
	item, err := marshalWithKey(pk, v)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: cond,
	}}, nil
}

func (s *Store) del(pk string, cond *string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:           &s.tableName,
		Key:                 key(pk),
		ConditionExpression: cond,
	}}
}

// transact runs the items and maps a cancelled condition at index i to conflicts[i].
func (s *Store) transact(ctx context.Context, items []types.TransactWriteItem, conflicts map[int]error) error {
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	if failed, ok := aws.CanceledByCondition(err); ok {
		for _, i := range failed {
			if c, ok := conflicts[i]; ok {
				return c
			}
		}
		return apperr.Wrap(apperr.KindConflict, "account was modified concurrently", err)
	}
	return fmt.Errorf("transact users: %w", err)
}

func (s *Store) get(ctx context.Context, pk string, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(pk),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", pk, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", pk, err)
	}
	return true, nil
}

var errEmailTaken = apperr.Conflict("Email already registered")

// Create stores a new account together with its email lock, its provider link
// and its verification token when present.
func (s *Store) Create(ctx context.Context, u User, v *Verification) error {
	u.Email = NormalizeEmail(u.Email)

	userPut, err := s.put(userPrefix+u.ID, u, notExists)
	if err != nil {
		return err
	}
	emailPut, err := s.put(emailPrefix+u.Email, link{UserID: u.ID}, notExists)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{userPut, emailPut}
	conflicts := map[int]error{
		0: apperr.Conflict("user id already exists"),
		1: errEmailTaken,
	}
	if u.ProviderID != "" {
		p, err := s.put(oauthPrefix+u.ProviderID, link{UserID: u.ID}, notExists)
		if err != nil {
			return err
		}
		conflicts[len(items)] = apperr.Conflict("external account already linked")
		items = append(items, p)
	}
	if v != nil {
		p, err := s.put(verifyPrefix+v.Token, v, notExists)
		if err != nil {
			return err
		}
		items = append(items, p)
	}
	return s.transact(ctx, items, conflicts)
}

// Get returns the account with the given id.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	var u User
	ok, err := s.get(ctx, userPrefix+id, &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return &u, nil
}

func (s *Store) follow(ctx context.Context, pk string) (*User, error) {
	var l link
	ok, err := s.get(ctx, pk, &l)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return s.Get(ctx, l.UserID)
}

// GetByEmail resolves an account through its email lock.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.follow(ctx, emailPrefix+NormalizeEmail(email))
}

// GetByProvider resolves an account through its external identity link.
func (s *Store) GetByProvider(ctx context.Context, providerID string) (*User, error) {
	return s.follow(ctx, oauthPrefix+providerID)
}

// Save overwrites an existing account record. Email and provider changes are not
// allowed here; use LinkProvider for the latter.
func (s *Store) Save(ctx context.Context, u User) error {
	item, err := marshalWithKey(userPrefix+u.ID, u)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: exists,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return apperr.NotFound("User not found")
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// LinkProvider saves u and claims its ProviderID in one transaction.
func (s *Store) LinkProvider(ctx context.Context, u User) error {
	userPut, err := s.put(userPrefix+u.ID, u, exists)
	if err != nil {
		return err
	}
	linkPut, err := s.put(oauthPrefix+u.ProviderID, link{UserID: u.ID}, notExists)
	if err != nil {
		return err
	}
	return s.transact(ctx, []types.TransactWriteItem{userPut, linkPut}, map[int]error{
		0: apperr.NotFound("User not found"),
		1: apperr.Conflict("external account already linked"),
	})
}

// GetVerification looks up a pending verification token.
func (s *Store) GetVerification(ctx context.Context, token string) (*Verification, error) {
	var v Verification
	ok, err := s.get(ctx, verifyPrefix+token, &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("verification token not found")
	}
	return &v, nil
}

// ReplaceVerification stores u with a fresh token and revokes the previous one.
func (s *Store) ReplaceVerification(ctx context.Context, u User, oldToken string, v Verification) error {
	userPut, err := s.put(userPrefix+u.ID, u, exists)
	if err != nil {
		return err
	}
	tokenPut, err := s.put(verifyPrefix+v.Token, v, notExists)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{userPut, tokenPut}
	if oldToken != "" && oldToken != v.Token {
		items = append(items, s.del(verifyPrefix+oldToken, nil))
	}
	return s.transact(ctx, items, map[int]error{0: apperr.NotFound("User not found")})
}

var errTokenUsed = apperr.Validation("Invalid or expired verification token")

// ConsumeVerification deletes the token and saves u in one transaction. A token
// that was already consumed makes the whole write fail.
func (s *Store) ConsumeVerification(ctx context.Context, token string, u User) error {
	userPut, err := s.put(userPrefix+u.ID, u, exists)
	if err != nil {
		return err
	}
	return s.transact(ctx, []types.TransactWriteItem{
		s.del(verifyPrefix+token, exists),
		userPut,
	}, map[int]error{
		0: errTokenUsed,
		1: apperr.NotFound("User not found"),
	})
}

// DeleteVerification removes a token record, e.g. once it is found expired.
func (s *Store) DeleteVerification(ctx context.Context, token string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       key(verifyPrefix + token),
	})
	if err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}

// NewVerification builds a token record valid for ttl from now.
func NewVerification(token, userID string, now time.Time, ttl time.Duration) Verification {
	return Verification{Token: token, UserID: userID, ExpiresAt: now.Add(ttl).Unix()}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

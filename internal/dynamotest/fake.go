// Package dynamotest provides an in-memory DynamoDB used by store tests.
//
// It understands the small expression dialect the stores emit: conditions made of
// attribute_exists / attribute_not_exists / comparisons joined by AND, and update
// expressions of the form "SET a = :v, b = b + :d REMOVE c". Writes are serialised,
// so conditional writes behave atomically under concurrent callers.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake implements aws.DynamoDBAPI in memory.
type Fake struct {
	mu      sync.Mutex
	keys    map[string]string
	tables  map[string]map[string]item
	failing map[string][]error
	calls   map[string]int
}

// New returns an empty fake with no tables.
func New() *Fake {
	return &Fake{
		keys:    map[string]string{},
		tables:  map[string]map[string]item{},
		failing: map[string][]error{},
		calls:   map[string]int{},
	}
}

// CreateTable registers a table whose partition key is the string attribute keyAttr.
func (f *Fake) CreateTable(name, keyAttr string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = keyAttr
	f.tables[name] = map[string]item{}
	return f
}

// FailNext makes the next call to op (e.g. "PutItem") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[op] = append(f.failing[op], err)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Seed stores an item without conditions.
func (f *Fake) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = clone(it)
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if q := f.failing[op]; len(q) > 0 {
		f.failing[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	if ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, table[k]); err != nil {
		return nil, err
	} else if !ok {
		return nil, conditionFailed()
	}
	table[k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	old := table[k]
	if ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old); err != nil {
		return nil, err
	} else if !ok {
		return nil, conditionFailed()
	}
	delete(table, k)
	out := &dyn.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = clone(old)
	}
	return out, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	cur := table[k]
	if ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur); err != nil {
		return nil, err
	} else if !ok {
		return nil, conditionFailed()
	}
	next, err := applyUpdate(in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur, in.Key)
	if err != nil {
		return nil, err
	}
	table[k] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = clone(next)
	}
	return out, nil
}

// Scan returns items ordered by key and honours Limit / ExclusiveStartKey.
func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		after, err := f.keyOf(*in.TableName, in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := len(keys)
	if in.Limit != nil && int(*in.Limit) < end-start {
		end = start + int(*in.Limit)
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, clone(table[k]))
	}
	out.Count = int32(len(out.Items))
	if end < len(keys) {
		keyAttr := f.keys[*in.TableName]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			keyAttr: &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

// TransactWriteItems checks every condition first and applies nothing if any fails.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table string
		key   string
		apply func(map[string]item)
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		var (
			tableName *string
			keyItem   item
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tableName, keyItem, cond = ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression
			names, values = ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Delete != nil:
			tableName, keyItem, cond = ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression
			names, values = ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.Update != nil:
			tableName, keyItem, cond = ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression
			names, values = ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			tableName, keyItem, cond = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression
			names, values = ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		table, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		k, err := f.keyOf(*tableName, keyItem)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(cond, names, values, table[k])
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			failed = true
			continue
		}

		tn, key := *tableName, k
		switch {
		case ti.Put != nil:
			put := clone(ti.Put.Item)
			writes = append(writes, write{tn, key, func(t map[string]item) { t[key] = put }})
		case ti.Delete != nil:
			writes = append(writes, write{tn, key, func(t map[string]item) { delete(t, key) }})
		case ti.Update != nil:
			upd := ti.Update
			next, err := applyUpdate(upd.UpdateExpression, upd.ExpressionAttributeNames, upd.ExpressionAttributeValues, table[k], upd.Key)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{tn, key, func(t map[string]item) { t[key] = next }})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.apply(f.tables[w.table])
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) table(name *string) (map[string]item, error) {
	if name == nil {
		return nil, errors.New("dynamotest: missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table " + *name + " not found")}
	}
	return t, nil
}

func (f *Fake) keyOf(table string, it item) (string, error) {
	attr := f.keys[table]
	v, ok := it[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: item for %s lacks string key %q", table, attr)
	}
	return v.Value, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }

func resolveName(tok string, names map[string]string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

func resolveValue(tok string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	v, ok := values[tok]
	if !ok {
		return nil, fmt.Errorf("dynamotest: unknown value placeholder %q", tok)
	}
	return v, nil
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, cur item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		ok, err := evalClause(clause, names, values, cur)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, cur item) (bool, error) {
	if arg, ok := fnArg(clause, "attribute_exists"); ok {
		_, present := cur[resolveName(arg, names)]
		return present, nil
	}
	if arg, ok := fnArg(clause, "attribute_not_exists"); ok {
		_, present := cur[resolveName(arg, names)]
		return !present, nil
	}
	for _, op := range []string{">=", "<=", "<>", "=", ">", "<"} {
		idx := strings.Index(clause, " "+op+" ")
		if idx < 0 {
			continue
		}
		lhs := cur[resolveName(clause[:idx], names)]
		rhs, err := resolveValue(clause[idx+len(op)+2:], values)
		if err != nil {
			return false, err
		}
		if lhs == nil {
			return op == "<>", nil
		}
		c, err := compare(lhs, rhs)
		if err != nil {
			return false, err
		}
		switch op {
		case ">=":
			return c >= 0, nil
		case "<=":
			return c <= 0, nil
		case "<>":
			return c != 0, nil
		case "=":
			return c == 0, nil
		case ">":
			return c > 0, nil
		default:
			return c < 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func fnArg(clause, fn string) (string, bool) {
	if !strings.HasPrefix(clause, fn+"(") || !strings.HasSuffix(clause, ")") {
		return "", false
	}
	return clause[len(fn)+1 : len(clause)-1], true
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, errors.New("dynamotest: type mismatch in comparison")
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return 0, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, errors.New("dynamotest: type mismatch in comparison")
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, errors.New("dynamotest: type mismatch in comparison")
		}
		if av.Value == bv.Value {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("dynamotest: unsupported comparison type %T", a)
}

func applyUpdate(expr *string, names map[string]string, values map[string]types.AttributeValue, cur item, key item) (item, error) {
	next := clone(cur)
	if next == nil {
		next = clone(key)
	}
	if expr == nil {
		return next, nil
	}
	setPart, removePart := *expr, ""
	if idx := strings.Index(setPart, "REMOVE "); idx >= 0 {
		setPart, removePart = setPart[:idx], setPart[idx+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(setPart), "SET "))

	if setPart != "" {
		for _, assign := range strings.Split(setPart, ",") {
			parts := strings.SplitN(assign, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("dynamotest: unsupported assignment %q", assign)
			}
			target := resolveName(parts[0], names)
			rhs := strings.TrimSpace(parts[1])

			var sign float64
			var operand string
			if i := strings.Index(rhs, " + "); i >= 0 {
				sign, operand = 1, rhs[i+3:]
			} else if i := strings.Index(rhs, " - "); i >= 0 {
				sign, operand = -1, rhs[i+3:]
			}
			if sign == 0 {
				v, err := resolveValue(rhs, values)
				if err != nil {
					return nil, err
				}
				next[target] = v
				continue
			}
			base, ok := next[target].(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("dynamotest: arithmetic on non-number %q", target)
			}
			delta, err := resolveValue(operand, values)
			if err != nil {
				return nil, err
			}
			dn, ok := delta.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("dynamotest: non-number operand for %q", target)
			}
			x, err := strconv.ParseFloat(base.Value, 64)
			if err != nil {
				return nil, err
			}
			y, err := strconv.ParseFloat(dn.Value, 64)
			if err != nil {
				return nil, err
			}
			next[target] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+sign*y, 'f', -1, 64)}
		}
	}
	if removePart = strings.TrimSpace(removePart); removePart != "" {
		for _, name := range strings.Split(removePart, ",") {
			delete(next, resolveName(name, names))
		}
	}
	return next, nil
}

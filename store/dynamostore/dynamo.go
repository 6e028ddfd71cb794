// Package dynamostore implements store.Store on a single DynamoDB table.
//
// Every store key is a partition. Hash fields live under sort key "h#<field>"
// with the value in the binary attribute "v"; set members live under sort key
// "s#<member>". SORT is emulated with store.SortMembers.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"
)

var _ store.Store = (*Store)(nil)
var _ store.Batcher = (*Store)(nil)

const (
	hashPrefix = "h#"
	setPrefix  = "s#"

	// DynamoDB limits.
	maxBatchWrite    = 25
	maxTransactItems = 100
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the table holding every key.
	// Default: "kvrepo"
	Table string

	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string

	// Region is used when the environment does not provide one.
	Region string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table: "kvrepo",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "kvrepo"
	}
}

// record is the item shape stored in the table.
type record struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	V  []byte `dynamodbav:"v,omitempty"`
}

// Store provides the store capability over one DynamoDB table.
type Store struct {
	client API
	config Config
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// NewFromConfig loads the default AWS configuration, applies the region and
// endpoint overrides of cfg and returns a Store on the resulting client.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0)
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	slog.Debug("dynamostore.NewFromConfig() - client ready", "table", cfg.Table, "endpoint", cfg.Endpoint, "region", awsCfg.Region)
	return New(client, cfg), nil
}

// EnsureTable creates the table when it does not exist and waits for it to
// become active.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", s.config.Table, err)
	}

	slog.Debug("dynamostore.EnsureTable() - create table", "table", s.config.Table)

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.config.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.config.Table, err)
	}
	return nil
}

func (s *Store) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	rec, found, err := s.getRecord(ctx, key, hashPrefix+field)
	if err != nil {
		return nil, err
	}
	if found {
		return rec.V, nil
	}

	kind, err := s.kindOf(ctx, key)
	if err != nil {
		return nil, err
	}
	if kind == setPrefix {
		return nil, fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	return nil, fault.ErrKeyNotFound
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	if err := s.expectKind(ctx, key, hashPrefix); err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(fields))
	for f, v := range fields {
		put, err := putRequest(key, hashPrefix+f, v)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: put})
	}
	return s.batchWrite(ctx, reqs)
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := s.expectKind(ctx, key, setPrefix); err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(members))
	for _, m := range unique(members) {
		put, err := putRequest(key, setPrefix+m, nil)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: put})
	}
	return s.batchWrite(ctx, reqs)
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := s.expectKind(ctx, key, setPrefix); err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(members))
	for _, m := range unique(members) {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: itemKey(key, setPrefix+m)}})
	}
	return s.batchWrite(ctx, reqs)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	reqs := make([]types.WriteRequest, 0)
	for _, key := range unique(keys) {
		sks, err := s.sortKeys(ctx, key, "")
		if err != nil {
			return err
		}
		for _, sk := range sks {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: itemKey(key, sk)}})
		}
	}
	return s.batchWrite(ctx, reqs)
}

func (s *Store) Sort(ctx context.Context, key string, opts store.SortOptions) ([][]byte, error) {
	kind, err := s.kindOf(ctx, key)
	if err != nil {
		return nil, err
	}
	if kind == hashPrefix {
		return nil, fmt.Errorf("%w: %w: %s", fault.ErrSortFailed, fault.ErrWrongType, key)
	}

	sks, err := s.sortKeys(ctx, key, setPrefix)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(sks))
	for i, sk := range sks {
		members[i] = strings.TrimPrefix(sk, setPrefix)
	}

	slog.Debug("dynamostore.Sort() - sort set", "key", key, "members", len(members), "by", opts.By, "alpha", opts.Alpha)

	return store.SortMembers(members, opts, func(k, field string) ([]byte, bool, error) {
		rec, found, err := s.getRecord(ctx, k, hashPrefix+field)
		if err != nil || !found {
			return nil, false, err
		}
		return rec.V, true, nil
	})
}

// Scan lists keys by scanning the whole table. It is meant for diagnostics,
// not for hot paths.
func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.config.Table),
		FilterExpression:         aws.String("begins_with(#pk, :prefix)"),
		ProjectionExpression:     aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{"#pk": "pk", "#sk": "sk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	})

	keys := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.config.Table, err)
		}
		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, r := range recs {
			keys = append(keys, r.PK)
		}
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// Batch collects the writes issued by fn and applies them with one
// TransactWriteItems call. Key-type checks are not performed inside a batch.
func (s *Store) Batch(ctx context.Context, fn func(w store.Writer) error) error {
	b := &batch{store: s, index: make(map[[2]string]int)}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.items) == 0 {
		return nil
	}
	if len(b.items) > maxTransactItems {
		return fmt.Errorf("%w: %d items, limit is %d", fault.ErrBatchTooLarge, len(b.items), maxTransactItems)
	}

	slog.Debug("dynamostore.Batch() - transact write", "items", len(b.items))

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: b.items,
	})
	if err != nil {
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}

func (s *Store) getRecord(ctx context.Context, key, sk string) (record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            itemKey(key, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return record{}, false, fmt.Errorf("get %s %s: %w", key, sk, err)
	}
	if out.Item == nil {
		return record{}, false, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return record{}, false, fmt.Errorf("unmarshal %s %s: %w", key, sk, err)
	}
	if rec.V == nil {
		rec.V = []byte{}
	}
	return rec, true, nil
}

// kindOf returns hashPrefix or setPrefix for an existing key and "" for a
// missing one. A key never holds both kinds of item.
func (s *Store) kindOf(ctx context.Context, key string) (string, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ProjectionExpression:     aws.String("#sk"),
		ExpressionAttributeNames: map[string]string{"#pk": "pk", "#sk": "sk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		Limit:          aws.Int32(1),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("query %s: %w", key, err)
	}
	if len(out.Items) == 0 {
		return "", nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return "", fmt.Errorf("unmarshal %s: %w", key, err)
	}
	if strings.HasPrefix(rec.SK, setPrefix) {
		return setPrefix, nil
	}
	return hashPrefix, nil
}

func (s *Store) expectKind(ctx context.Context, key, want string) error {
	kind, err := s.kindOf(ctx, key)
	if err != nil {
		return err
	}
	if kind != "" && kind != want {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	return nil
}

// sortKeys lists the sort keys of a partition, optionally restricted to a
// prefix.
func (s *Store) sortKeys(ctx context.Context, key, prefix string) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ProjectionExpression:     aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{"#pk": "pk", "#sk": "sk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("#pk = :pk AND begins_with(#sk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	sks := make([]string, 0)
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", key, err)
		}
		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal query page: %w", err)
		}
		for _, r := range recs {
			sks = append(sks, r.SK)
		}
	}
	return sks, nil
}

// batchWrite sends reqs in chunks of 25, resubmitting unprocessed items.
func (s *Store) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	for chunk := range slices.Chunk(reqs, maxBatchWrite) {
		pending := map[string][]types.WriteRequest{s.config.Table: chunk}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
				}
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// unique drops repeats; a batch write may name each item once.
func unique(members []string) []string {
	out := slices.Clone(members)
	slices.Sort(out)
	return slices.Compact(out)
}

func itemKey(key, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func putRequest(key, sk string, v []byte) (*types.PutRequest, error) {
	item, err := attributevalue.MarshalMap(record{PK: key, SK: sk, V: v})
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", key, sk, err)
	}
	return &types.PutRequest{Item: item}, nil
}

// batch stages writes for one transaction. A later write to the same item
// replaces an earlier one, since a transaction may touch each item once.
type batch struct {
	store *Store
	items []types.TransactWriteItem
	index map[[2]string]int
}

func (b *batch) add(key, sk string, item types.TransactWriteItem) {
	id := [2]string{key, sk}
	if i, found := b.index[id]; found {
		b.items[i] = item
		return
	}
	b.index[id] = len(b.items)
	b.items = append(b.items, item)
}

func (b *batch) put(key, sk string, v []byte) error {
	item, err := attributevalue.MarshalMap(record{PK: key, SK: sk, V: v})
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", key, sk, err)
	}
	b.add(key, sk, types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(b.store.config.Table), Item: item},
	})
	return nil
}

func (b *batch) del(key, sk string) {
	b.add(key, sk, types.TransactWriteItem{
		Delete: &types.Delete{TableName: aws.String(b.store.config.Table), Key: itemKey(key, sk)},
	})
}

func (b *batch) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	for f, v := range fields {
		if err := b.put(key, hashPrefix+f, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) SetAdd(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		if err := b.put(key, setPrefix+m, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) SetRemove(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		b.del(key, setPrefix+m)
	}
	return nil
}

// Delete resolves the items of each key when it is staged.
func (b *batch) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		sks, err := b.store.sortKeys(ctx, key, "")
		if err != nil {
			return err
		}
		for _, sk := range sks {
			b.del(key, sk)
		}
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"canvassync/application/ports"
	pkgerrors "canvassync/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runStorageContract exercises the behaviour every ports.Storage must share
func runStorageContract(t *testing.T, s ports.Storage) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	require.NoError(t, s.Set(ctx, "k", "v2"))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", got)

	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func assertQuota(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrQuotaExceeded))
	assert.True(t, pkgerrors.IsQuotaExceeded(err))
}

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, NewMemoryStorage(0))
}

func TestMemoryStorage_Quota(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(20)

	require.NoError(t, s.Set(ctx, "a", strings.Repeat("x", 10)))
	assertQuota(t, s.Set(ctx, "b", strings.Repeat("y", 10)))

	// replacing a key does not count its old value
	require.NoError(t, s.Set(ctx, "a", strings.Repeat("z", 15)))
	assert.Equal(t, 1, s.Len())
}

func TestSQLiteStorage(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "store.db"), 0)
	require.NoError(t, err)
	defer s.Close()

	runStorageContract(t, s)
}

func TestSQLiteStorage_QuotaAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := OpenSQLite(path, 32)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", strings.Repeat("x", 20)))
	assertQuota(t, s.Set(ctx, "b", strings.Repeat("y", 20)))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path, 32)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 20)
}

func setupTestRedis(t *testing.T, maxValueBytes int) (*RedisStorage, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage("redis://"+mr.Addr(), "test:", maxValueBytes)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	s, mr := setupTestRedis(t, 0)
	runStorageContract(t, s)

	require.NoError(t, s.Set(context.Background(), "k", "v"))
	assert.True(t, mr.Exists("test:k"))
	require.NoError(t, s.Ping(context.Background()))
}

func TestRedisStorage_Quota(t *testing.T) {
	s, _ := setupTestRedis(t, 8)
	assertQuota(t, s.Set(context.Background(), "k", "0123456789"))
}

func TestNewRedisStorage_BadURL(t *testing.T) {
	_, err := NewRedisStorage("not a url", "", 0)
	assert.Error(t, err)
}

// fakeDynamo is an in-memory stand-in for the DynamoDB client
type fakeDynamo struct {
	mu     sync.Mutex
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func fakeKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[fakeKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[fakeKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, fakeKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoDBStorage(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoDBStorage(fake, "canvas-cache", "device-1", zap.NewNop())

	runStorageContract(t, s)

	require.NoError(t, s.Set(context.Background(), "workspaces", "{}"))
	stored := fake.items["CACHE#device-1|KEY#workspaces"]
	require.NotNil(t, stored)

	var item kvItem
	require.NoError(t, attributevalue.UnmarshalMap(stored, &item))
	assert.Equal(t, "{}", item.Value)
	assert.NotEmpty(t, item.UpdatedAt)
}

func TestDynamoDBStorage_Quota(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoDBStorage(fake, "canvas-cache", "device-1", nil)

	assertQuota(t, s.Set(context.Background(), "big", strings.Repeat("x", DynamoDBMaxItemBytes)))

	fake.putErr = &smithy.GenericAPIError{Code: "ValidationException", Message: "Item size has exceeded the maximum allowed size"}
	assertQuota(t, s.Set(context.Background(), "small", "x"))

	fake.putErr = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
	err := s.Set(context.Background(), "small", "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrQuotaExceeded))
}

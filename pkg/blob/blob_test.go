package blob

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://artifacts/models/engagement.json")
	require.NoError(t, err)
	assert.Equal(t, "artifacts", bucket)
	assert.Equal(t, "models/engagement.json", key)

	for _, bad := range []string{"artifacts/x", "s3://", "s3://bucket", "s3://bucket/"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Write(ctx, filepath.Join("nested", "cleaned.csv"), []byte("a,b\n")))
	data, err := ReadAll(ctx, store, filepath.Join("nested", "cleaned.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	_, err = store.Open(ctx, "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRouter_DispatchesByScheme(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	router := &Router{
		Local: NewLocalStore(t.TempDir()),
		S3:    NewS3StoreWithClient(fake, zap.NewNop()),
	}

	require.NoError(t, router.Write(ctx, "s3://bucket/model.json", []byte("{}")))
	assert.Equal(t, []byte("{}"), fake.objects["bucket/model.json"])

	require.NoError(t, router.Write(ctx, "model.json", []byte("local")))
	data, err := ReadAll(ctx, router, "model.json")
	require.NoError(t, err)
	assert.Equal(t, "local", string(data))

	_, err = router.Open(ctx, "s3://bucket/absent.json")
	assert.ErrorIs(t, err, ErrNotFound)

	noS3 := &Router{Local: NewLocalStore(t.TempDir())}
	assert.Error(t, noS3.Write(ctx, "s3://bucket/x", nil))
}

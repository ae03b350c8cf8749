package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
)

// fakeBucket answers path-style PutObject, GetObject and ListObjectsV2 for one bucket
type fakeBucket struct {
	mu           sync.Mutex
	name         string
	objects      map[string][]byte
	contentTypes map[string]string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == b.name && r.Method == http.MethodGet {
		b.list(w, r.URL.Query().Get("prefix"))
		return
	}
	key, ok := strings.CutPrefix(path, b.name+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		b.contentTypes[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := b.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key></Error>`, key)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) list(w http.ResponseWriter, prefix string) {
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, `<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`, b.name, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&sb, `<Contents><Key>%s</Key><LastModified>2024-03-05T09:30:00.000Z</LastModified><Size>%d</Size></Contents>`, k, len(b.objects[k]))
	}
	sb.WriteString(`</ListBucketResult>`)

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}

func newTestStore(t *testing.T) (*Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{name: "dracma-test", objects: map[string][]byte{}, contentTypes: map[string]string{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	store, err := NewStore(context.Background(), common.S3Config{
		Bucket:       "dracma-test",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		UsePathStyle: true,
	}, arbor.NewLogger(), func(o *awss3.Options) {
		o.Credentials = aws.AnonymousCredentials{}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	require.NoError(t, err)
	return store, bucket
}

func TestStore_PutGet(t *testing.T) {
	store, bucket := newTestStore(t)
	ctx := context.Background()

	location, err := store.Put(ctx, "raw/saldos_20240305.json", []byte(`{"data":[]}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "s3://dracma-test/raw/saldos_20240305.json", location)
	assert.Equal(t, `{"data":[]}`, string(bucket.objects["raw/saldos_20240305.json"]))
	assert.Equal(t, "application/json", bucket.contentTypes["raw/saldos_20240305.json"])

	data, err := store.Get(ctx, "raw/saldos_20240305.json")
	require.NoError(t, err)
	assert.Equal(t, `{"data":[]}`, string(data))

	_, err = store.Get(ctx, "raw/missing.json")
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
}

func TestStore_List(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"raw/b.json", "raw/a.json", "other/c.json"} {
		_, err := store.Put(ctx, key, []byte("{}"), "application/json")
		require.NoError(t, err)
	}

	infos, err := store.List(ctx, "raw/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "raw/a.json", infos[0].Key)
	assert.EqualValues(t, 2, infos[0].Size)
	assert.Equal(t, 2024, infos[0].UpdatedAt.Year())
}

func TestNewStore_RequiresBucket(t *testing.T) {
	_, err := NewStore(context.Background(), common.S3Config{Region: "us-east-1"}, arbor.NewLogger())
	assert.ErrorIs(t, err, interfaces.ErrConfig)
}

package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sequelacore/internal/blob/core"
)

// fakeS3 serves the path-style subset of the S3 API the store calls. List
// responses are paginated one key per page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject)} }

func (f *fakeS3) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()
	if req.Method == http.MethodGet && q.Get("list-type") == "2" {
		return f.list(q.Get("prefix"), q.Get("continuation-token")), nil
	}
	obj, ok := f.objects[key]
	switch req.Method {
	case http.MethodHead:
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, obj.headers()), nil
	case http.MethodGet:
		if !ok {
			return respond(http.StatusNotFound, []byte(`<Error><Code>NoSuchKey</Code></Error>`), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, obj.body, obj.headers()), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if isChunked(req.Header) {
			body = decodeAWSChunked(body)
		}
		md := map[string]string{}
		for h, v := range req.Header {
			if name, found := strings.CutPrefix(strings.ToLower(h), "x-amz-meta-"); found {
				md[name] = v[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if len(keys) > 1 {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
		keys = keys[:1]
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;e&quot;</ETag><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>",
			k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func (o fakeObject) headers() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"ETag":           {`"etag"`},
		"Last-Modified":  {"Mon, 01 Jan 2024 00:00:00 GMT"},
	}
	if o.contentType != "" {
		h.Set("Content-Type", o.contentType)
	}
	for k, v := range o.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func respond(status int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

func isChunked(h http.Header) bool {
	return strings.Contains(h.Get("Content-Encoding"), "aws-chunked") || h.Get("X-Amz-Decoded-Content-Length") != ""
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated until a zero sized chunk followed by trailers.
func decodeAWSChunked(body []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(body))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return body
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return body
		}
		if n == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return body
		}
		_, _ = r.ReadString('\n')
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Bucket:          "exports",
		Region:          "us-east-1",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		HTTPClient:      newFakeS3(),
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	assert.Equal(t, core.DriverS3, s.Driver())

	info, err := s.Put(ctx, "versions/4/a.json", strings.NewReader(`{"v":4}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"version_id": "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "versions/4/a.json", info.Key)
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, "etag", info.ETag)

	_, err = s.Put(ctx, "versions/4/a.json", strings.NewReader("x"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	_, rc, err := s.Get(ctx, "versions/4/a.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"v":4}`, string(body))

	ok, err := s.Delete(ctx, "versions/4/a.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "versions/4/a.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Head(ctx, "missing.json")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "missing.json")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Head(ctx, "/abs")
	require.ErrorIs(t, err, core.ErrInvalidKey)
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, k := range []string{"versions/4/c.json", "versions/4/a.json", "versions/4/b.json", "versions/5/a.json"} {
		_, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "versions/4/")
	require.NoError(t, err)
	keys := make([]string, 0, len(list))
	for _, info := range list {
		keys = append(keys, info.Key)
	}
	assert.Equal(t, []string{"versions/4/a.json", "versions/4/b.json", "versions/4/c.json"}, keys)

	empty, err := s.List(ctx, "versions/9/")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeAWSChunked(t *testing.T) {
	framed := []byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")
	assert.Equal(t, "hello", string(decodeAWSChunked(framed)))
	assert.Equal(t, "plain", string(decodeAWSChunked([]byte("plain"))))
}

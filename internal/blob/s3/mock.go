package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMock returns a Store backed by an in-memory fake S3 transport.
// Only Head/Get/Put/Delete/ListObjectsV2 are implemented.
func NewMock() *Store {
	rt := &mockRoundTripper{state: make(map[string]mockObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string]mockObject
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		st, ok := m.state[key]
		if !ok {
			return respond(http.StatusNotFound, nil, http.Header{}), nil
		}
		return respond(http.StatusOK, nil, objectHeader(st)), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		md := map[string]string{}
		for name, vals := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") && len(vals) > 0 {
				md[strings.TrimPrefix(strings.ToLower(name), "x-amz-meta-")] = vals[0]
			}
		}
		m.state[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return respond(http.StatusOK, nil, http.Header{"ETag": {"\"etag\""}}), nil
	case http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			body := []byte("<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>")
			return respond(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, st.body, objectHeader(st)), nil
	case http.MethodDelete:
		delete(m.state, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *mockRoundTripper) list(prefix string) *http.Response {
	var keys []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult><IsTruncated>false</IsTruncated>")
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeader(st mockObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(st.body))},
		"Content-Type":   {st.contentType},
		"ETag":           {"\"etag\""},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
	for k, v := range st.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func respond(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h, ContentLength: int64(len(body))}
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size := strings.SplitN(parts[0], ";", 2)[0]
	sz, err := strconv.ParseInt(size, 16, 64)
	if err != nil || int64(len(parts[1])) != sz || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

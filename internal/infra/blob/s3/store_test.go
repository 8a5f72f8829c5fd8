package s3

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"esgbu/internal/blob/core"
)

// fakeBucket answers the handful of S3 calls the store makes, for one
// path-style bucket.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return f.list(req.URL.Query().Get("prefix")), nil
	case req.Method == http.MethodPut:
		if _, exists := f.objects[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return xmlResponse(http.StatusPreconditionFailed, "<Error><Code>PreconditionFailed</Code></Error>"), nil
		}
		body, _ := io.ReadAll(req.Body)
		md := map[string]string{}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				md[strings.ToLower(strings.TrimPrefix(strings.ToLower(name), "x-amz-meta-"))] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		resp := xmlResponse(http.StatusOK, "")
		resp.Header.Set("ETag", `"etag-`+key+`"`)
		return resp, nil
	case req.Method == http.MethodGet || req.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return xmlResponse(http.StatusNotFound, "<Error><Code>NoSuchKey</Code></Error>"), nil
		}
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}
		resp.Header.Set("Content-Length", strconv.Itoa(len(obj.body)))
		resp.Header.Set("Content-Type", obj.contentType)
		resp.Header.Set("ETag", `"etag-`+key+`"`)
		for k, v := range obj.metadata {
			resp.Header.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodGet {
			resp.Body = io.NopCloser(bytes.NewReader(obj.body))
			resp.ContentLength = int64(len(obj.body))
		}
		return resp, nil
	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return &http.Response{StatusCode: http.StatusNoContent, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return xmlResponse(http.StatusNotImplemented, ""), nil
}

func (f *fakeBucket) list(prefix string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>audit</Name><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag-%s&quot;</ETag><LastModified>2026-01-01T00:00:00.000Z</LastModified></Contents>", k, len(f.objects[k].body), k)
	}
	b.WriteString("</ListBucketResult>")
	return xmlResponse(http.StatusOK, b.String())
}

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": {"application/xml"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{
		Bucket:          "audit",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		HTTPClient:      &http.Client{Transport: &fakeBucket{objects: map[string]fakeObject{}}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if s.Bucket() != "audit" || s.Driver() != core.DriverS3 {
		t.Fatalf("unexpected store %s/%s", s.Bucket(), s.Driver())
	}
	info, err := s.Put(ctx, "audit/a.jsonl", strings.NewReader("{}\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"entries": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 3 || info.ETag != "etag-audit/a.jsonl" {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := s.Put(ctx, "audit/a.jsonl", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "audit/a.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}\n" || got.ContentType != "application/x-ndjson" || got.Metadata["entries"] != "1" {
		t.Fatalf("unexpected object %+v %q", got, body)
	}
	if _, _, err := s.Get(ctx, "audit/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.Put(ctx, "other/b", strings.NewReader("b"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := s.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "audit/a.jsonl" || list[0].Size != 3 {
		t.Fatalf("unexpected list %+v", list)
	}

	if ok, err := s.Delete(ctx, "audit/a.jsonl"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "audit/a.jsonl"); ok || err != nil {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

// writeCABundle writes a self-signed CA certificate in PEM form.
func writeCABundle(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "esgbu test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestNewWithCABundleUsesCustomClient(t *testing.T) {
	t.Setenv("AWS_CA_BUNDLE", writeCABundle(t))
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "audit/ca.jsonl", strings.NewReader("{}\n"), core.PutOptions{}); err != nil {
		t.Fatalf("put through custom client: %v", err)
	}
	list, err := s.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "audit/ca.jsonl" {
		t.Fatalf("unexpected list %+v", list)
	}
}

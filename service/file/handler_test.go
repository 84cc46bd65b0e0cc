// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fawa-io/filedrop/pkg/httperr"
)

func newTestServer(t *testing.T, policy Policy) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t, policy)
	f.svc.opts.BaseURL = ""

	r := chi.NewRouter()
	r.Use(chimw.GetHead)
	NewFileServiceHandler(f.svc).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, f
}

func multipartBody(t *testing.T, field, name, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("comment", "ignored"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, srv *httptest.Server, path, name, contentType string, data []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, "file", name, contentType, data)
	resp, err := srv.Client().Post(srv.URL+path, ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uploadURL(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		FileURL string `json:"fileUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.FileURL
}

func get(t *testing.T, srv *httptest.Server, method, url, rangeHeader string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env httperr.Body
	require.NoError(t, json.Unmarshal(body, &env))
	return env.Error.Code
}

func TestHandler_UploadAndDownload(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 20})
	data := []byte("0123456789")

	url := uploadURL(t, upload(t, srv, "/upload", "a.png", "image/png", data))
	require.True(t, strings.HasPrefix(url, srv.URL+"/"), url)
	require.True(t, strings.HasSuffix(url, ".png"), url)
	name := strings.TrimPrefix(url, srv.URL+"/")
	id := strings.TrimSuffix(name, ".png")
	assert.Len(t, id, DefaultIDLength)

	testCases := []struct {
		name         string
		method       string
		path         string
		rangeHeader  string
		status       int
		body         string
		contentRange string
		length       string
	}{
		{name: "full", method: http.MethodGet, path: "/" + name, status: http.StatusOK, body: "0123456789", length: "10"},
		{name: "bare id", method: http.MethodGet, path: "/" + id, status: http.StatusOK, body: "0123456789", length: "10"},
		{name: "files prefix", method: http.MethodGet, path: "/files/" + name, status: http.StatusOK, body: "0123456789", length: "10"},
		{name: "upload prefix", method: http.MethodGet, path: "/upload/" + name, status: http.StatusOK, body: "0123456789", length: "10"},
		{
			name: "middle range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=2-5",
			status: http.StatusPartialContent, body: "2345", contentRange: "bytes 2-5/10", length: "4",
		},
		{
			name: "whole range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=0-9",
			status: http.StatusPartialContent, body: "0123456789", contentRange: "bytes 0-9/10", length: "10",
		},
		{
			name: "open range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=7-",
			status: http.StatusPartialContent, body: "789", contentRange: "bytes 7-9/10", length: "3",
		},
		{
			name: "clamped range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=8-100",
			status: http.StatusPartialContent, body: "89", contentRange: "bytes 8-9/10", length: "2",
		},
		{
			name: "start past end", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=10-",
			status: http.StatusRequestedRangeNotSatisfiable, contentRange: "bytes */10",
		},
		{
			name: "reversed range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=5-2",
			status: http.StatusRequestedRangeNotSatisfiable, contentRange: "bytes */10",
		},
		{
			name: "suffix range", method: http.MethodGet, path: "/" + name, rangeHeader: "bytes=-3",
			status: http.StatusRequestedRangeNotSatisfiable, contentRange: "bytes */10",
		},
		{name: "head", method: http.MethodHead, path: "/" + name, status: http.StatusOK, length: "10"},
		{name: "wrong extension", method: http.MethodGet, path: "/" + id + ".jpg", status: http.StatusNotFound},
		{name: "unknown id", method: http.MethodGet, path: "/zzzzzzzzzz.png", status: http.StatusNotFound},
		{name: "short id", method: http.MethodGet, path: "/abc", status: http.StatusNotFound},
		{name: "nested path", method: http.MethodGet, path: "/a/b/c", status: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := get(t, srv, tc.method, srv.URL+tc.path, tc.rangeHeader)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.contentRange, resp.Header.Get("Content-Range"))
			if tc.length != "" {
				assert.Equal(t, tc.length, resp.Header.Get("Content-Length"))
			}

			switch tc.status {
			case http.StatusOK, http.StatusPartialContent:
				assert.Equal(t, tc.body, string(body))
				assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
				assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
			case http.StatusNotFound:
				assert.Equal(t, httperr.CodeNotFound, errorCode(t, body))
			case http.StatusRequestedRangeNotSatisfiable:
				assert.Equal(t, httperr.CodeInvalidRange, errorCode(t, body))
			}
		})
	}
}

func TestHandler_UploadRejected(t *testing.T) {
	rules, err := ParseAllowedTypes([]string{"image/*:.png,.jpg,.gif", "video/*:.mp4,.webm"})
	require.NoError(t, err)
	srv, f := newTestServer(t, Policy{MaxSize: 16, Allowed: rules})

	testCases := []struct {
		name        string
		fileName    string
		contentType string
		data        []byte
		code        string
	}{
		{name: "executable", fileName: "setup.exe", contentType: "application/x-msdownload", data: []byte("MZ"), code: httperr.CodeTypeNotAllowed},
		{name: "too large", fileName: "a.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 17), code: httperr.CodeFileTooLarge},
		{name: "empty file", fileName: "a.png", contentType: "image/png", code: httperr.CodeNoPayload},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := upload(t, srv, "/upload", tc.fileName, tc.contentType, tc.data)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.code, errorCode(t, body))
		})
	}
	assert.Empty(t, f.storedFiles(t))
}

func TestHandler_UploadWithoutFile(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 10})

	testCases := []struct {
		name        string
		body        io.Reader
		contentType string
	}{
		{name: "not multipart", body: strings.NewReader("{}"), contentType: "application/json"},
		{name: "other field", contentType: "multipart/form-data"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := tc.body, tc.contentType
			if body == nil {
				body, ct = multipartBody(t, "attachment", "a.png", "image/png", []byte("data"))
			}
			resp, err := srv.Client().Post(srv.URL+"/upload", ct, body)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, httperr.CodeNoPayload, errorCode(t, raw))
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 10})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/upload", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_ForwardedProto(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 10})

	body, ct := multipartBody(t, "file", "a.txt", "text/plain", []byte("hello"))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/file", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	url := uploadURL(t, resp)
	assert.True(t, strings.HasPrefix(url, "https://"+strings.TrimPrefix(srv.URL, "http://")+"/"), url)
}

func TestHandler_MissingPayloadIsNotFound(t *testing.T) {
	srv, f := newTestServer(t, Policy{MaxSize: 1 << 10})
	url := uploadURL(t, upload(t, srv, "/upload", "a.txt", "text/plain", []byte("hello")))

	rec, err := f.svc.Resolve(context.Background(), strings.TrimPrefix(url, srv.URL+"/"))
	require.NoError(t, err)
	require.NoError(t, f.backend.Delete(context.Background(), rec.Location))

	resp, _ := get(t, srv, http.MethodGet, url, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ConcurrentUploads(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 20})
	const n = 16

	var (
		mu   sync.Mutex
		urls = make(map[string][]byte, n)
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		data := bytes.Repeat([]byte{byte('a' + i)}, 1000+i)
		body, ct := multipartBody(t, "file", fmt.Sprintf("f%d.bin", i), "application/octet-stream", data)
		g.Go(func() error {
			resp, err := srv.Client().Post(srv.URL+"/upload", ct, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("upload %d: status %d", i, resp.StatusCode)
			}
			var out struct {
				FileURL string `json:"fileUrl"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			mu.Lock()
			urls[out.FileURL] = data
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, urls, n, "every upload gets its own id")

	for url, want := range urls {
		resp, body := get(t, srv, http.MethodGet, url, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, body)
	}
}

func TestHandler_LargeFileStreams(t *testing.T) {
	srv, _ := newTestServer(t, Policy{MaxSize: 1 << 20})
	data := bytes.Repeat([]byte("0123456789abcdef"), 20000)

	url := uploadURL(t, upload(t, srv, "/upload", "big.bin", "application/octet-stream", data))

	resp, body := get(t, srv, http.MethodGet, url, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)

	resp, body = get(t, srv, http.MethodGet, url, "bytes=100000-299999")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, data[100000:300000], body)
}

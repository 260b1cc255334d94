package data

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 implements just enough of the S3 multipart API for the minio and
// aws clients.
type fakeS3 struct {
	mu        sync.Mutex
	nextID    int
	uploads   map[string]map[int]string
	completed map[string][]int
	aborted   []string

	failComplete bool
}

type completeRequest struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{
		uploads:   map[string]map[int]string{},
		completed: map[string][]int{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	q := r.URL.Query()
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case key == "":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead:
		if _, ok := f.completed[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"final"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && q.Has("uploads"):
		f.nextID++
		id := fmt.Sprintf("upload-%d", f.nextID)
		f.uploads[id] = map[int]string{}
		writeXML(w, http.StatusOK, fmt.Sprintf(
			`<InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>`,
			bucket, key, id))

	case r.Method == http.MethodPut && q.Has("uploadId") && q.Has("partNumber"):
		parts, ok := f.uploads[q.Get("uploadId")]
		if !ok {
			f.noSuchUpload(w)
			return
		}
		n, _ := strconv.Atoi(q.Get("partNumber"))
		etag := fmt.Sprintf(`"%s-%d"`, q.Get("uploadId"), n)
		parts[n] = etag
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && q.Has("uploadId"):
		f.complete(w, body, bucket, key, q.Get("uploadId"))

	case r.Method == http.MethodDelete && q.Has("uploadId"):
		id := q.Get("uploadId")
		if _, ok := f.uploads[id]; !ok {
			f.noSuchUpload(w)
			return
		}
		delete(f.uploads, id)
		f.aborted = append(f.aborted, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeS3) complete(w http.ResponseWriter, body []byte, bucket, key, id string) {
	parts, ok := f.uploads[id]
	if !ok {
		f.noSuchUpload(w)
		return
	}
	if f.failComplete {
		writeXML(w, http.StatusBadRequest,
			`<Error><Code>InvalidPart</Code><Message>injected</Message></Error>`)
		return
	}

	var req completeRequest
	if err := xml.Unmarshal(body, &req); err != nil || len(req.Parts) == 0 {
		writeXML(w, http.StatusBadRequest,
			`<Error><Code>MalformedXML</Code><Message>bad body</Message></Error>`)
		return
	}
	numbers := make([]int, 0, len(req.Parts))
	for _, p := range req.Parts {
		if strings.Trim(parts[p.PartNumber], `"`) != strings.Trim(p.ETag, `"`) {
			writeXML(w, http.StatusBadRequest,
				`<Error><Code>InvalidPart</Code><Message>etag mismatch</Message></Error>`)
			return
		}
		numbers = append(numbers, p.PartNumber)
	}
	delete(f.uploads, id)
	f.completed[key] = numbers
	writeXML(w, http.StatusOK, fmt.Sprintf(
		`<CompleteMultipartUploadResult><Location>/%s/%s</Location><Bucket>%s</Bucket><Key>%s</Key><ETag>"final"</ETag></CompleteMultipartUploadResult>`,
		bucket, key, bucket, key))
}

func (f *fakeS3) noSuchUpload(w http.ResponseWriter) {
	writeXML(w, http.StatusNotFound,
		`<Error><Code>NoSuchUpload</Code><Message>The specified upload does not exist.</Message></Error>`)
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+body)
}

func (f *fakeS3) completedParts(key string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[key]
}

func (f *fakeS3) abortedUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}

func (f *fakeS3) setFailComplete(fail bool) {
	f.mu.Lock()
	f.failComplete = fail
	f.mu.Unlock()
}

// Package fakes3 serves the subset of the S3 REST API the store adapters use,
// verifying declared checksums like the real service. It backs adapter tests.
package fakes3

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lilpacy/verify-test/checksum"
)

// Server ...
type Server struct {
	bucket string

	mu                sync.Mutex
	objects           map[string][]byte
	checksums         map[string]string
	uploads           map[string]map[int][]byte
	declaredAlgorithm string
	nextID            int
}

// New ...
func New(bucket string) *Server {
	return &Server{
		bucket:    bucket,
		objects:   map[string][]byte{},
		checksums: map[string]string{},
		uploads:   map[string]map[int][]byte{},
	}
}

// ServeHTTP ...
func (f *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, "/"+f.bucket+"/") {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/"+f.bucket+"/")
	query := r.URL.Query()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody")
		return
	}

	switch {
	case r.Method == http.MethodPost && query.Has("uploads"):
		f.nextID++
		id := fmt.Sprintf("upload-%d", f.nextID)
		f.uploads[id] = map[int][]byte{}
		f.declaredAlgorithm = r.Header.Get("x-amz-checksum-algorithm")
		writeXML(w, fmt.Sprintf(`<InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>`, f.bucket, key, id))

	case r.Method == http.MethodPut && query.Has("partNumber"):
		parts, ok := f.uploads[query.Get("uploadId")]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		if r.Header.Get("x-amz-checksum-crc32c") != checksum.Compute(checksum.CRC32C, body).Wire() {
			writeError(w, http.StatusBadRequest, "BadDigest")
			return
		}
		n, _ := strconv.Atoi(query.Get("partNumber"))
		parts[n] = body
		w.Header().Set("ETag", ETagOf(body))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && query.Has("uploadId"):
		f.complete(w, key, query.Get("uploadId"), body)

	case r.Method == http.MethodDelete && query.Has("uploadId"):
		if _, ok := f.uploads[query.Get("uploadId")]; !ok {
			writeError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		delete(f.uploads, query.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut:
		sum := md5.Sum(body)
		if r.Header.Get("Content-MD5") != base64.StdEncoding.EncodeToString(sum[:]) {
			writeError(w, http.StatusBadRequest, "BadDigest")
			return
		}
		f.objects[key] = body
		delete(f.checksums, key)
		w.Header().Set("ETag", ETagOf(body))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", ETagOf(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		if c := f.checksums[key]; c != "" && r.Header.Get("x-amz-checksum-mode") == "ENABLED" {
			w.Header().Set("x-amz-checksum-crc32c", c)
		}
		w.WriteHeader(http.StatusOK)

	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *Server) complete(w http.ResponseWriter, key, uploadID string, body []byte) {
	parts, ok := f.uploads[uploadID]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchUpload")
		return
	}

	var request struct {
		Parts []struct {
			PartNumber     int
			ETag           string
			ChecksumCRC32C string
		} `xml:"Part"`
	}
	if err := xml.Unmarshal(body, &request); err != nil || len(request.Parts) == 0 {
		writeError(w, http.StatusBadRequest, "MalformedXML")
		return
	}

	var data bytes.Buffer
	var digests []checksum.Digest
	for _, p := range request.Parts {
		part, ok := parts[p.PartNumber]
		digest := checksum.Compute(checksum.CRC32C, part)
		if !ok || strings.Trim(p.ETag, `"`) != strings.Trim(ETagOf(part), `"`) || p.ChecksumCRC32C != digest.Wire() {
			writeError(w, http.StatusBadRequest, "InvalidPart")
			return
		}
		data.Write(part)
		digests = append(digests, digest)
	}

	composite, err := checksum.Composite(digests)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPart")
		return
	}
	f.objects[key] = data.Bytes()
	f.checksums[key] = composite
	delete(f.uploads, uploadID)

	writeXML(w, fmt.Sprintf(`<CompleteMultipartUploadResult><Location>http://fake/%s/%s</Location><Bucket>%s</Bucket><Key>%s</Key><ETag>"multipart-%d"</ETag><ChecksumCRC32C>%s</ChecksumCRC32C></CompleteMultipartUploadResult>`,
		f.bucket, key, f.bucket, key, len(request.Parts), composite))
}

// HasObject ...
func (f *Server) HasObject(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// PendingParts returns the number of parts held for an open upload.
func (f *Server) PendingParts(uploadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads[uploadID])
}

// PendingUploads ...
func (f *Server) PendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// DeclaredAlgorithm is the checksum algorithm of the last initiated upload.
func (f *Server) DeclaredAlgorithm() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.declaredAlgorithm
}

// ETagOf returns the quoted hex MD5 S3 uses as single-part ETag.
func ETagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>req</RequestId></Error>`, code, code)
}

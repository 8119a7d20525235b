package stegapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liminalpurple/stegmeter/internal/capacity"
)

var (
	// ErrMalformedResponse is returned when a response body is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNoCapacity is returned when a metadata response carries no usable capacity.
	ErrNoCapacity = errors.New("response has no capacity field")
)

// APIError is a failure reported by the service, either through a non-2xx
// status or a success=false envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// field returns the first of names present on r. The service has shipped both
// camelCase and PascalCase keys; this is the only place that knows.
func field(r gjson.Result, names ...string) gjson.Result {
	for _, name := range names {
		if v := r.Get(name); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// decodeEnvelope checks a {success, message, data, error} response and
// returns its data (or the whole body when there is no data member) and message.
func decodeEnvelope(status int, body []byte) (gjson.Result, string, error) {
	ok := status >= 200 && status < 300

	if !gjson.ValidBytes(body) {
		if !ok {
			return gjson.Result{}, "", &APIError{Status: status, Message: http.StatusText(status)}
		}
		return gjson.Result{}, "", fmt.Errorf("%w: body is not JSON", ErrMalformedResponse)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, "", fmt.Errorf("%w: expected object, got %s", ErrMalformedResponse, root.Type)
	}

	errMsg := field(root, "error", "Error").String()
	if !ok {
		if errMsg == "" {
			errMsg = http.StatusText(status)
		}
		return gjson.Result{}, "", &APIError{Status: status, Message: errMsg}
	}

	if success := field(root, "success", "Success"); success.Exists() && !success.Bool() {
		if errMsg == "" {
			errMsg = "request failed"
		}
		return gjson.Result{}, "", &APIError{Status: status, Message: errMsg}
	}

	data := field(root, "data", "Data")
	if !data.Exists() {
		data = root
	}

	return data, field(root, "message", "Message").String(), nil
}

// capacityFrom finds the capacity in a decoded response. The byte count may
// sit at the top level, under data, or inside a steganoCapacity object.
func capacityFrom(root gjson.Result) (capacity.Estimate, error) {
	data := field(root, "data", "Data")
	containers := []gjson.Result{
		root,
		data,
		field(root, "steganoCapacity", "SteganoCapacity"),
		field(data, "steganoCapacity", "SteganoCapacity"),
	}

	for _, c := range containers {
		if !c.IsObject() {
			continue
		}
		v := field(c, "maxBytes", "MaxBytes", "bytes", "Bytes")
		if v.Type != gjson.Number {
			continue
		}
		n := v.Int()
		if n <= 0 {
			return capacity.Estimate{}, fmt.Errorf("%w: non-positive value %d", ErrNoCapacity, n)
		}
		return capacity.ServerEstimate(n), nil
	}

	return capacity.Estimate{}, ErrNoCapacity
}

// ParseCapacity normalizes a raw capacity response body into a server estimate.
func ParseCapacity(body []byte) (capacity.Estimate, error) {
	if !gjson.ValidBytes(body) {
		return capacity.Estimate{}, fmt.Errorf("%w: body is not JSON", ErrMalformedResponse)
	}
	return capacityFrom(gjson.ParseBytes(body))
}

func parseHealth(r gjson.Result) *Health {
	h := &Health{
		Status:  field(r, "status", "Status").String(),
		Version: field(r, "version", "Version").String(),
	}
	if t, err := time.Parse(time.RFC3339, field(r, "time", "Time").String()); err == nil {
		h.Time = t
	}
	return h
}

func parseHide(r gjson.Result, message string) *HideResult {
	return &HideResult{
		Key:           field(r, "key", "Key").String(),
		OutputFileURL: field(r, "outputFileURL", "OutputFileURL", "outputFileUrl").String(),
		Message:       message,
	}
}

func parseHideFile(r gjson.Result, message string) *HideFileResult {
	details := field(r, "fileDetails", "FileDetails")
	return &HideFileResult{
		OutputFileURL: field(r, "outputFileURL", "OutputFileURL", "outputFileUrl").String(),
		Encryption:    field(r, "encryption", "Encryption").String(),
		File: FileDetails{
			OriginalName: field(details, "originalName", "OriginalName").String(),
			FileType:     field(details, "fileType", "FileType").String(),
			FileSize:     field(details, "fileSize", "FileSize").Int(),
		},
		Message: message,
	}
}

func parseExtract(r gjson.Result) *ExtractResult {
	return &ExtractResult{
		IsFile:      field(r, "isFile", "IsFile").Bool(),
		Message:     field(r, "message", "Message").String(),
		FileURL:     field(r, "fileURL", "FileURL", "fileUrl").String(),
		FileName:    field(r, "fileName", "FileName").String(),
		FileType:    field(r, "fileType", "FileType").String(),
		FileSize:    field(r, "fileSize", "FileSize").Int(),
		ContentType: field(r, "contentType", "ContentType").String(),
	}
}

func parseMetadata(r gjson.Result) *Metadata {
	m := &Metadata{
		Filename: field(r, "filename", "Filename").String(),
		FileSize: field(r, "fileSize", "FileSize").Int(),
		FileType: field(r, "fileType", "FileType").String(),
		MimeType: field(r, "mimeType", "MimeType").String(),
		Width:    int(field(r, "imageWidth", "ImageWidth").Int()),
		Height:   int(field(r, "imageHeight", "ImageHeight").Int()),
		HasEXIF:  field(r, "hasEXIF", "HasEXIF").Bool(),
	}
	for _, risk := range field(r, "privacyRisks", "PrivacyRisks").Array() {
		m.PrivacyRisks = append(m.PrivacyRisks, risk.String())
	}
	if est, err := capacityFrom(r); err == nil {
		m.Capacity = est
	}
	return m
}

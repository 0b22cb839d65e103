// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docloader

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration is returned for invalid configuration parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrIO is returned when a dataset cannot be read.
	ErrIO = errors.New("dataset unreadable")

	// ErrParse is returned when a dataset record is malformed.
	ErrParse = errors.New("malformed record")

	// ErrNetwork is returned when a request could not be completed
	// because of a connection or transport failure.
	ErrNetwork = errors.New("network failure")

	// ErrService is returned when the service responds with a non-success status.
	ErrService = errors.New("service error")

	// ErrIndexExists is returned by CreateIndex when the index already exists.
	ErrIndexExists = errors.New("index already exists")

	// ErrIndexNotFound is returned when the target index does not exist.
	ErrIndexNotFound = errors.New("index does not exist")

	// ErrSchemaNotFound is returned by CreateIndex for an unknown schema.
	ErrSchemaNotFound = errors.New("schema does not exist")

	errMissingIndex = errors.New("missing index name")
)

// ServiceError is returned when the service answers a request with a
// non-success status code.
type ServiceError struct {
	// Op holds the operation, e.g. "bulk_index".
	Op string
	// Index holds the index the request targeted, if any.
	Index string
	// StatusCode holds the HTTP status code of the response.
	StatusCode int
	// Message holds the error reported by the service, or the raw body.
	Message string

	kind error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Index != "" {
		return fmt.Sprintf("%s %q failed (%d): %s", e.Op, e.Index, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, msg)
}

// Unwrap makes errors.Is match ErrService and, where the status code has a
// known meaning for the operation, the matching sentinel (e.g. ErrIndexExists).
func (e *ServiceError) Unwrap() []error {
	if e.kind != nil {
		return []error{ErrService, e.kind}
	}
	return []error{ErrService}
}

// TooManyRequests reports whether the service rejected the request with 429.
func (e *ServiceError) TooManyRequests() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ClientError reports whether the status code is in the 4xx range,
// excluding 429.
func (e *ServiceError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.TooManyRequests()
}

// ServerError reports whether the status code is in the 5xx range.
func (e *ServiceError) ServerError() bool {
	return e.StatusCode >= 500
}

// BatchError is returned when a batch could not be submitted. It carries
// enough context to resume ingestion from the failed batch.
type BatchError struct {
	// Seq holds the zero-based sequence number of the batch within the run.
	Seq int
	// Pass holds the dataset pass of the batch's first document, starting at 1.
	Pass int
	// Offset holds the run-wide position of the batch's first document.
	// Documents before Offset have been submitted.
	Offset int64
	// Docs holds the number of documents in the batch.
	Docs int
	// Err holds the underlying error.
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf(
		"batch %d (pass %d, documents %d-%d) failed: %s",
		e.Seq, e.Pass, e.Offset, e.Offset+int64(e.Docs)-1, e.Err,
	)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// EnsureIndexError is returned when the target index could not be created
// for a reason other than it already existing.
type EnsureIndexError struct {
	Index string
	Err   error
}

func (e *EnsureIndexError) Error() string {
	return fmt.Sprintf("failed to ensure index %q: %s", e.Index, e.Err)
}

func (e *EnsureIndexError) Unwrap() error {
	return e.Err
}

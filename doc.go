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

// Package docloader provides a batched bulk-ingestion client for the
// structure indexing service's /v1/indexes API.
//
// A Loader reads a dataset lazily, maps every record to a Document, groups
// documents into fixed-size batches and submits each batch as a single
// bulk_index request. The target index may be created up front; an index
// that already exists is not treated as an error.
//
// This package intentionally covers only the ingestion side of the service
// API. It does not implement search, and it does not retry documents that
// the service rejected individually.
package docloader

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

package docloader_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminee/go-docloader"
)

func TestDefaultConfig(t *testing.T) {
	cfg := docloader.DefaultConfig(docloader.Config{})
	assert.Equal(t, docloader.ConnectionConfig{Host: "localhost", Scheme: "http"}, cfg.Connection)
	assert.Equal(t, "http://localhost", cfg.Connection.URL().String())
	assert.Equal(t, "descriptor_v1", cfg.Schema)
	assert.Equal(t, 10000, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Passes)
	assert.Equal(t, 1, cfg.MaxRequests)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, []int{502, 503, 504}, cfg.RetryOnStatus)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, docloader.FieldMapping{
		SourceField:    "smiles",
		ExtraDataField: "extra_data",
		CopyField:      "smile_again",
		NoteField:      "notice",
		NoteTemplate:   "we're on pass {pass}",
	}, cfg.Mapping)
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfigKeepsExplicitValues(t *testing.T) {
	cfg := docloader.DefaultConfig(docloader.Config{
		Connection: docloader.ConnectionConfig{
			Host:    "cheminee.internal:4001",
			Scheme:  "https",
			Timeout: 5 * time.Second,
		},
		BatchSize: 25,
		Passes:    5,
	})
	assert.Equal(t, "https://cheminee.internal:4001", cfg.Connection.URL().String())
	assert.Equal(t, 5*time.Second, cfg.Connection.Timeout)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 5, cfg.Passes)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	for name, cfg := range map[string]docloader.Config{
		"scheme":           {Connection: docloader.ConnectionConfig{Scheme: "ftp"}},
		"timeout":          {Connection: docloader.ConnectionConfig{Timeout: -time.Second}},
		"host":             {Connection: docloader.ConnectionConfig{Host: "local host"}},
		"compression_low":  {CompressionLevel: -2},
		"compression_high": {CompressionLevel: 10},
		"batch_size":       {BatchSize: -1},
		"passes":           {Passes: -1},
		"skip_documents":   {SkipDocuments: -1},
		"max_requests":     {MaxRequests: -1},
		"max_retries":      {MaxRetries: -1},
	} {
		t.Run(name, func(t *testing.T) {
			err := docloader.DefaultConfig(cfg).Validate()
			assert.ErrorIs(t, err, docloader.ErrConfiguration)
		})
	}
}

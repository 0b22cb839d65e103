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
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminee/go-docloader"
)

// TestLoaderIntegration runs against a live service, at DOCLOADER_HOST or
// localhost:3000.
func TestLoaderIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}
	host := os.Getenv("DOCLOADER_HOST")
	if host == "" {
		host = "localhost:3000"
	}

	index := "docloader-testing-" + uuid.NewString()[:8]
	loader, err := docloader.New(docloader.Config{
		Connection:  docloader.ConnectionConfig{Host: host},
		Index:       index,
		CreateIndex: true,
		BatchSize:   2,
		Passes:      2,
	})
	require.NoError(t, err)
	client := loader.Client()
	defer client.DeleteIndex(context.Background(), index)

	stats, err := loader.Run(context.Background(), textDataset("C", "CC", "CCC", "c1ccccc1"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.DocsIndexed)
	assert.Equal(t, int64(4), stats.BatchesSubmitted)

	// Ensuring the index again is a no-op.
	require.NoError(t, loader.EnsureIndex(context.Background()))

	indexes, err := client.ListIndexes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, indexes, docloader.IndexMeta{Name: index, Schema: "descriptor_v1"})

	_, err = client.MergeSegments(context.Background(), index)
	require.NoError(t, err)

	stat, err := client.BulkDelete(context.Background(), index, []string{"C", "CC"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.Indexed)
}

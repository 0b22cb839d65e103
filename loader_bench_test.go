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
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/fastjson"

	"github.com/cheminee/go-docloader"
	"github.com/cheminee/go-docloader/docloadertest"
)

func BenchmarkLoader(b *testing.B) {
	b.Run("NoCompression", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.NoCompression})
	})
	b.Run("NoCompressionConcurrent", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.NoCompression, MaxRequests: 4})
	})
	b.Run("BestSpeed", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.BestSpeed})
	})
	b.Run("BestSpeedConcurrent", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.BestSpeed, MaxRequests: 4})
	})
	b.Run("DefaultCompression", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.DefaultCompression})
	})
	b.Run("BestCompression", func(b *testing.B) {
		benchmarkLoader(b, docloader.Config{CompressionLevel: gzip.BestCompression})
	})
}

func benchmarkLoader(b *testing.B, cfg docloader.Config) {
	host := docloadertest.NewMockServer(b, func(w http.ResponseWriter, r *http.Request) {
		_, result := docloadertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	cfg.Connection.Host = host
	cfg.Index = "benchmark"
	cfg.BatchSize = 1000
	loader, err := docloader.New(cfg)
	require.NoError(b, err)

	dataset := numberedDataset(10000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := loader.Run(context.Background(), dataset)
		require.NoError(b, err)
	}
	stats := loader.Stats()
	b.ReportMetric(float64(stats.DocsIndexed)/b.Elapsed().Seconds(), "docs/s")
	b.ReportMetric(float64(stats.BytesFlushed)/float64(stats.DocsIndexed), "bytes/doc")
}

func BenchmarkDocumentMarshalFastJSON(b *testing.B) {
	doc := docloader.Document{
		Smiles: "CC(=O)Oc1ccccc1C(=O)O",
		ExtraData: map[string]any{
			"smile_again": "CC(=O)Oc1ccccc1C(=O)O",
			"notice":      "we're on pass 1",
			"source":      map[string]any{"db": "chembl", "id": 25.0},
		},
	}
	var w fastjson.Writer
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Reset()
		if err := doc.MarshalFastJSON(&w); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecordReader(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(`{"smiles":"CCO","extra_data":{"id":1}}` + "\n")
	}
	input := sb.String()
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := docloader.NewRecordReader(strings.NewReader(input), docloader.FormatNDJSON)
		if err != nil {
			b.Fatal(err)
		}
		for {
			if _, err := r.Next(); err == io.EOF {
				break
			} else if err != nil {
				b.Fatal(err)
			}
		}
		r.Close()
	}
}

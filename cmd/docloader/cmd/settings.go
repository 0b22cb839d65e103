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

package cmd

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/cheminee/go-docloader"
)

type duration time.Duration

func (d duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// settings holds the resolved command line configuration.
type settings struct {
	Host             string   `yaml:"host"`
	Scheme           string   `yaml:"scheme"`
	Timeout          duration `yaml:"timeout"`
	MaxRetries       int      `yaml:"max-retries"`
	CompressionLevel int      `yaml:"compression-level"`
	LogLevel         string   `yaml:"log-level"`
	LogFormat        string   `yaml:"log-format"`
	APM              bool     `yaml:"apm"`

	Index                   string `yaml:"index"`
	Schema                  string `yaml:"schema"`
	SortBy                  string `yaml:"sort-by"`
	CreateIndex             bool   `yaml:"create-index"`
	IgnoreEnsureIndexErrors bool   `yaml:"ignore-ensure-index-errors"`
	BatchSize               int    `yaml:"batch-size"`
	Passes                  int    `yaml:"passes"`
	Skip                    int64  `yaml:"skip"`
	MaxRequests             int    `yaml:"max-requests"`
	MetricsAddr             string `yaml:"metrics-addr"`

	Format         string `yaml:"format"`
	SourceField    string `yaml:"source-field"`
	ExtraDataField string `yaml:"extra-data-field"`
	CopyField      string `yaml:"copy-field"`
	NoteField      string `yaml:"note-field"`
	NoteTemplate   string `yaml:"note-template"`
}

// addLoadFlags registers the flags controlling ingestion.
func addLoadFlags(f *pflag.FlagSet) {
	f.String("index", "", "Name of the target index.")
	f.String("schema", "descriptor_v1", "Schema the index is created with.")
	f.String("sort-by", "", "Descriptor the index is sorted by.")
	f.Bool("create-index", true, "Create the index before loading, if it does not exist.")
	f.Bool("ignore-ensure-index-errors", false, "Continue loading when the index cannot be created.")
	f.Int("batch-size", docloader.DefaultBatchSize, "Maximum number of documents per bulk request.")
	f.Int("passes", 1, "Number of times the dataset is submitted.")
	f.Int64("skip", 0, "Number of leading documents to skip, counted across passes.")
	f.Int("max-requests", 1, "Maximum number of concurrent bulk requests.")
	f.String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090.")
}

// addMappingFlags registers the flags controlling how records become documents.
func addMappingFlags(f *pflag.FlagSet) {
	f.String("format", "auto", "Dataset format: auto, text, ndjson or json.")
	f.String("source-field", "", `JSON field holding the structure identifier (default "smiles").`)
	f.String("extra-data-field", "", `JSON field holding extra data (default "extra_data").`)
	f.String("copy-field", "", `Extra data key the structure identifier is copied to, "-" to disable (default "smile_again").`)
	f.String("note-field", "", `Extra data key of the pass note, "-" to disable (default "notice").`)
	f.String("note-template", "", `Pass note, {pass} and {line} are replaced (default "we're on pass {pass}").`)
}

func (a *app) settings() settings {
	v := a.v
	mapping := docloader.DefaultFieldMapping(docloader.FieldMapping{
		SourceField:    v.GetString("source-field"),
		ExtraDataField: v.GetString("extra-data-field"),
		CopyField:      v.GetString("copy-field"),
		NoteField:      v.GetString("note-field"),
		NoteTemplate:   v.GetString("note-template"),
	})
	return settings{
		Host:             v.GetString("host"),
		Scheme:           v.GetString("scheme"),
		Timeout:          duration(v.GetDuration("timeout")),
		MaxRetries:       v.GetInt("max-retries"),
		CompressionLevel: v.GetInt("compression-level"),
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
		APM:              v.GetBool("apm"),

		Index:                   v.GetString("index"),
		Schema:                  v.GetString("schema"),
		SortBy:                  v.GetString("sort-by"),
		CreateIndex:             v.GetBool("create-index"),
		IgnoreEnsureIndexErrors: v.GetBool("ignore-ensure-index-errors"),
		BatchSize:               v.GetInt("batch-size"),
		Passes:                  v.GetInt("passes"),
		Skip:                    v.GetInt64("skip"),
		MaxRequests:             v.GetInt("max-requests"),
		MetricsAddr:             v.GetString("metrics-addr"),

		Format:         v.GetString("format"),
		SourceField:    mapping.SourceField,
		ExtraDataField: mapping.ExtraDataField,
		CopyField:      mapping.CopyField,
		NoteField:      mapping.NoteField,
		NoteTemplate:   mapping.NoteTemplate,
	}
}

// config returns the library configuration for s.
func (a *app) config(s settings) docloader.Config {
	return docloader.Config{
		Connection: docloader.ConnectionConfig{
			Host:    s.Host,
			Scheme:  s.Scheme,
			Timeout: time.Duration(s.Timeout),
		},
		Logger:                  a.logger,
		Tracer:                  a.tracer,
		CompressionLevel:        s.CompressionLevel,
		MaxRetries:              s.MaxRetries,
		Index:                   s.Index,
		Schema:                  s.Schema,
		SortBy:                  s.SortBy,
		CreateIndex:             s.CreateIndex,
		IgnoreEnsureIndexErrors: s.IgnoreEnsureIndexErrors,
		BatchSize:               s.BatchSize,
		Passes:                  s.Passes,
		SkipDocuments:           s.Skip,
		MaxRequests:             s.MaxRequests,
		Mapping: docloader.FieldMapping{
			SourceField:    s.SourceField,
			ExtraDataField: s.ExtraDataField,
			CopyField:      s.CopyField,
			NoteField:      s.NoteField,
			NoteTemplate:   s.NoteTemplate,
		},
	}
}

// client returns a client for the connection settings of s.
func (a *app) client(s settings) (*docloader.Client, error) {
	return docloader.NewClient(a.config(s))
}

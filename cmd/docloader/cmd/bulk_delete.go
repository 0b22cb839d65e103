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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cheminee/go-docloader"
)

func bulkDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-delete <index> <dataset>",
		Short: "Delete the structures of a dataset from an index",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().Int("batch-size", docloader.DefaultBatchSize, "Maximum number of structures per bulk request.")
	addMappingFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s := a.settings()
		format, err := docloader.ParseFormat(s.Format)
		if err != nil {
			return err
		}
		client, err := a.client(s)
		if err != nil {
			return err
		}
		docs, err := readDocuments(docloader.FileDataset{Path: args[1], Format: format}, a.config(s).Mapping)
		if err != nil {
			return err
		}
		batches, err := docloader.Chunk(docs, s.BatchSize)
		if err != nil {
			return err
		}

		var deleted, failed int64
		for seq, batch := range batches {
			smiles := make([]string, len(batch))
			for i, doc := range batch {
				smiles[i] = doc.Smiles
			}
			stat, err := client.BulkDelete(cmd.Context(), args[0], smiles)
			if err != nil {
				return fmt.Errorf("batch %d: %w", seq, err)
			}
			deleted += stat.Indexed
			failed += int64(len(stat.FailedDocs))
			for _, item := range stat.FailedDocs {
				a.logger.Warn("failed to delete structure",
					zap.String("smiles", item.Smiles),
					zap.String("error", item.Error),
				)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d structures (%d failed)\n", deleted, failed)
		return nil
	}
	return cmd
}

func readDocuments(dataset docloader.Dataset, mapping docloader.FieldMapping) ([]docloader.Document, error) {
	r, err := dataset.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var docs []docloader.Document
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		doc, err := mapping.ToDocument(rec, 1)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

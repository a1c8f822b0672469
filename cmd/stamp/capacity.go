// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/config"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// capacityInput is a planned issuance load.
type capacityInput struct {
	PerDay      int64
	RecordBytes int64
	MaxBytes    int64
	TimeBucket  time.Duration
	Replication int
	HotDays     int
}

// capacityEstimate is the storage the load needs.
type capacityEstimate struct {
	RecordBytes     int64   `json:"record_bytes"`
	PerSecond       float64 `json:"per_second"`
	BytesPerDay     int64   `json:"bytes_per_day"`
	BytesPerBucket  int64   `json:"bytes_per_bucket"`
	ShardsPerBucket int64   `json:"shards_per_bucket"`
	ShardsPerDay    int64   `json:"shards_per_day"`
	ReplicatedDay   int64   `json:"replicated_bytes_per_day"`
	HotTierBytes    int64   `json:"hot_tier_bytes"`
	SequenceUse     float64 `json:"sequence_use"`
}

// maxSequencePerDay is the largest per-day sequence an identifier can
// carry.
const maxSequencePerDay = 99_999_999

func estimateCapacity(input capacityInput) capacityEstimate {
	buckets := int64((24 * time.Hour) / input.TimeBucket)
	bytesPerDay := input.PerDay * input.RecordBytes
	// Loads are assumed flat across the day.
	perBucket := int64(math.Ceil(float64(input.PerDay) / float64(buckets)))
	bytesPerBucket := perBucket * input.RecordBytes

	recordsPerShard := max(input.MaxBytes/input.RecordBytes, 1)
	shardsPerBucket := int64(math.Ceil(float64(perBucket) / float64(recordsPerShard)))
	if perBucket > 0 {
		shardsPerBucket = max(shardsPerBucket, 1)
	}

	return capacityEstimate{
		RecordBytes:     input.RecordBytes,
		PerSecond:       float64(input.PerDay) / (24 * 60 * 60),
		BytesPerDay:     bytesPerDay,
		BytesPerBucket:  bytesPerBucket,
		ShardsPerBucket: shardsPerBucket,
		ShardsPerDay:    shardsPerBucket * buckets,
		ReplicatedDay:   bytesPerDay * int64(input.Replication),
		HotTierBytes:    bytesPerDay * int64(input.Replication) * int64(input.HotDays),
		SequenceUse:     float64(input.PerDay) / maxSequencePerDay,
	}
}

// sampleRecordBytes measures the stored record of a representative
// artifact.
func sampleRecordBytes() (int64, error) {
	issuedAt := time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC)
	artifact := issuance.Artifact{
		ID:              "ua-mvs-20261016-00000001",
		SubjectRef:      "subject-" + strings.Repeat("0", 24),
		Category:        issuance.CategoryResidencePermit,
		IssuedAt:        issuedAt,
		ExpiresAt:       issuedAt.AddDate(10, 0, 0),
		BatchID:         "0b5d3c0e-8f1c-4d55-9a43-8f5a2f0c1e77",
		SequenceInBatch: 999,
		PayloadHash:     issuance.Hash{0xff},
	}
	record, err := codec.Marshal(artifact)
	if err != nil {
		return 0, err
	}
	return int64(len(record)), nil
}

type capacityParams struct {
	cli.JSONOutput
	input capacityInput
}

func capacityCommand() *cli.Command {
	var params capacityParams
	defaults := config.Default()
	return &cli.Command{
		Name:    "capacity",
		Summary: "Estimate storage and shard counts for a daily load",
		Description: `Estimate the storage a daily issuance volume needs: bytes per day and
per time bucket, shards per bucket and per day, the replicated
footprint, the hot-tier footprint, and how much of the per-day
identifier space the load consumes. The record size defaults to the
measured size of a representative stored artifact.`,
		Usage: "stamp capacity [flags]",
		Examples: []cli.Example{
			{
				Description: "100 million artifacts a day with 1 GiB shards",
				Command:     "stamp capacity --per-day 100000000 --max-bytes 1073741824",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("capacity", pflag.ContinueOnError)
			params.AddJSONFlag(flagSet)
			flagSet.Int64Var(&params.input.PerDay, "per-day", 100_000_000, "artifacts issued per day")
			flagSet.Int64Var(&params.input.RecordBytes, "record-bytes", 0, "stored bytes per artifact (default measured)")
			flagSet.Int64Var(&params.input.MaxBytes, "max-bytes", defaults.Shards.MaxBytes, "shard capacity in bytes")
			flagSet.DurationVar(&params.input.TimeBucket, "time-bucket", defaults.Shards.TimeBucket, "shard time bucket width")
			flagSet.IntVar(&params.input.Replication, "replication", defaults.Replication.Factor, "copies of every record, primary included")
			flagSet.IntVar(&params.input.HotDays, "hot-days", 7, "days kept in the hot tier")
			return flagSet
		},
		Run: func(args []string) error {
			return runCapacity(&params)
		},
	}
}

func runCapacity(params *capacityParams) error {
	input := params.input
	if input.PerDay < 0 || input.MaxBytes <= 0 || input.Replication < 1 || input.HotDays < 0 {
		return fmt.Errorf("--per-day, --max-bytes, --replication, and --hot-days must be positive")
	}
	if input.TimeBucket < time.Minute || (24*time.Hour)%input.TimeBucket != 0 {
		return fmt.Errorf("--time-bucket must be at least 1m and divide 24h evenly")
	}
	if input.RecordBytes <= 0 {
		measured, err := sampleRecordBytes()
		if err != nil {
			return err
		}
		input.RecordBytes = measured
	}

	estimate := estimateCapacity(input)
	if done, err := params.EmitJSON(estimate); done {
		return err
	}
	printCapacity(cli.Stdout, input, estimate)
	return nil
}

func printCapacity(w io.Writer, input capacityInput, estimate capacityEstimate) {
	fmt.Fprintf(w, "load:               %s artifacts/day (%s/s)\n",
		humanize.Comma(input.PerDay), humanize.CommafWithDigits(estimate.PerSecond, 1))
	fmt.Fprintf(w, "record size:        %s\n", humanize.IBytes(uint64(estimate.RecordBytes)))
	fmt.Fprintf(w, "per day:            %s\n", humanize.IBytes(uint64(estimate.BytesPerDay)))
	fmt.Fprintf(w, "per %-15s %s\n", input.TimeBucket.String()+" bucket:", humanize.IBytes(uint64(estimate.BytesPerBucket)))
	fmt.Fprintf(w, "shards:             %s per bucket, %s per day (%s each)\n",
		humanize.Comma(estimate.ShardsPerBucket), humanize.Comma(estimate.ShardsPerDay), humanize.IBytes(uint64(input.MaxBytes)))
	fmt.Fprintf(w, "replicated (x%d):    %s per day\n", input.Replication, humanize.IBytes(uint64(estimate.ReplicatedDay)))
	fmt.Fprintf(w, "hot tier (%dd):      %s\n", input.HotDays, humanize.IBytes(uint64(estimate.HotTierBytes)))
	fmt.Fprintf(w, "identifier space:   %.1f%% of the daily sequence range\n", 100*estimate.SequenceUse)
	if estimate.SequenceUse > 1 {
		fmt.Fprintln(w, "warning: the load exceeds the per-day identifier range; allocation will be exhausted")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

type shardsParams struct {
	cli.JSONOutput
	connection
	bucket string
	state  string
	limit  int
}

func shardsCommand() *cli.Command {
	var params shardsParams
	return &cli.Command{
		Name:    "shards",
		Summary: "List shards, newest first",
		Usage:   "stamp shards [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("shards", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			flagSet.StringVar(&params.bucket, "bucket", "", "only shards of this time bucket (e.g. 2026101609)")
			flagSet.StringVar(&params.state, "state", "", "only shards in this state: open, sealing, sealed")
			flagSet.IntVar(&params.limit, "limit", 0, "maximum number of shards (default 100)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runShards(&params)
		},
	}
}

func runShards(params *shardsParams) error {
	state := issuance.ShardState(strings.ToUpper(params.state))
	if state != "" && !state.Valid() {
		return fmt.Errorf("--state must be one of: open, sealing, sealed")
	}

	client, err := params.client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var response issuance.ShardsResponse
	request := issuance.ShardsRequest{Bucket: params.bucket, State: state, Limit: params.limit}
	if err := client.Call(ctx, "shards", request, &response); err != nil {
		return err
	}

	if done, err := params.EmitJSON(response.Shards); done {
		return err
	}
	if len(response.Shards) == 0 {
		fmt.Fprintln(cli.Stdout, "no shards")
		return nil
	}
	printShards(cli.Stdout, response.Shards)
	return nil
}

func printShards(w io.Writer, shards []issuance.Shard) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tSTATE\tARTIFACTS\tSIZE\tFILL\tOPENED")
	for _, shard := range shards {
		fill := 0.0
		if shard.MaxBytes > 0 {
			fill = 100 * float64(shard.ByteSize) / float64(shard.MaxBytes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			shard.ShardID, shard.State,
			humanize.Comma(int64(shard.ArtifactCount)),
			humanize.IBytes(uint64(shard.ByteSize)),
			fill,
			humanize.Time(shard.OpenedAt))
	}
	tw.Flush()
}

type shardParams struct {
	cli.JSONOutput
	connection
}

func shardCommand() *cli.Command {
	var params shardParams
	return &cli.Command{
		Name:    "shard",
		Summary: "Show one shard",
		Usage:   "stamp shard [flags] <shard-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("shard", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one shard id")
			}
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			var shard issuance.Shard
			if err := client.Call(ctx, "shard", issuance.ShardRequest{ShardID: args[0]}, &shard); err != nil {
				return err
			}
			if done, err := params.EmitJSON(shard); done {
				return err
			}
			printShard(cli.Stdout, &shard)
			return nil
		},
	}
}

func printShard(w io.Writer, shard *issuance.Shard) {
	fmt.Fprintf(w, "%s\n", shard.ShardID)
	fmt.Fprintf(w, "  state:      %s\n", shard.State)
	fmt.Fprintf(w, "  bucket:     %s (generation %d)\n", shard.Bucket, shard.Generation)
	fmt.Fprintf(w, "  artifacts:  %s\n", humanize.Comma(int64(shard.ArtifactCount)))
	fmt.Fprintf(w, "  size:       %s of %s\n", humanize.IBytes(uint64(shard.ByteSize)), humanize.IBytes(uint64(shard.MaxBytes)))
	fmt.Fprintf(w, "  opened:     %s\n", shard.OpenedAt.UTC().Format("2006-01-02 15:04:05Z"))
	if !shard.SealedAt.IsZero() {
		fmt.Fprintf(w, "  sealed:     %s\n", shard.SealedAt.UTC().Format("2006-01-02 15:04:05Z"))
	}
	if !shard.Checksum.IsZero() {
		fmt.Fprintf(w, "  checksum:   %s\n", shard.Checksum)
	}
}

type statsParams struct {
	cli.JSONOutput
	connection
}

func statsCommand() *cli.Command {
	var params statsParams
	return &cli.Command{
		Name:    "stats",
		Summary: "Summarize the shard store",
		Usage:   "stamp stats [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			var stats issuance.Stats
			if err := client.Call(ctx, "stats", nil, &stats); err != nil {
				return err
			}
			if done, err := params.EmitJSON(stats); done {
				return err
			}
			printStats(cli.Stdout, &stats)
			return nil
		},
	}
}

func printStats(w io.Writer, stats *issuance.Stats) {
	fmt.Fprintf(w, "artifacts:  %s\n", humanize.Comma(stats.TotalArtifacts))
	fmt.Fprintf(w, "stored:     %s\n", humanize.IBytes(uint64(stats.TotalBytes)))

	fmt.Fprintf(w, "by state:  ")
	for _, state := range []issuance.ShardState{issuance.ShardOpen, issuance.ShardSealing, issuance.ShardSealed} {
		fmt.Fprintf(w, " %s=%d", state, stats.ShardsByState[state])
	}
	fmt.Fprintln(w)

	tiers := make([]string, 0, len(stats.ShardsByTier))
	for tier := range stats.ShardsByTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	fmt.Fprintf(w, "by tier:   ")
	for _, tier := range tiers {
		fmt.Fprintf(w, " %s=%d", tier, stats.ShardsByTier[tier])
	}
	fmt.Fprintln(w)

	if len(stats.Recent) > 0 {
		fmt.Fprintln(w, "\nrecent:")
		recent := make([]issuance.Shard, len(stats.Recent))
		for i, summary := range stats.Recent {
			recent[i] = summary.Shard
		}
		printShards(w, recent)
	}
}

type statusParams struct {
	cli.JSONOutput
	connection
}

func statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Check that the service is up",
		Usage:   "stamp status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			var status issuance.StatusResponse
			if err := client.Call(ctx, "status", nil, &status); err != nil {
				return err
			}
			if done, err := params.EmitJSON(status); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "authority %s, version %s, up %ds, %d open shards, %d replicas\n",
				status.Authority, status.Version, status.UptimeSeconds, status.OpenShards, status.Replicas)
			return nil
		},
	}
}

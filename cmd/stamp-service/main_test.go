// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/config"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/secret"
	"github.com/bureau-foundation/stamp/lib/service"
	"github.com/bureau-foundation/stamp/lib/shard"
	"github.com/bureau-foundation/stamp/lib/testutil"
)

var testEpoch = time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC)

// testConfig returns a valid configuration rooted in a temporary
// directory, with two segment replicas and a fresh sealing key.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Authority = "ua-mvs"
	cfg.Paths = config.PathsConfig{
		Root:       root,
		Database:   filepath.Join(root, "stamp.db"),
		Socket:     filepath.Join(testutil.SocketDir(t), "stamp.sock"),
		SealingKey: filepath.Join(root, "sealing.key"),
		Exports:    filepath.Join(root, "exports"),
	}
	cfg.Issuance.SubBatchSize = 10
	cfg.Issuance.ConcurrencyLimit = 2
	cfg.Replication.SegmentDirs = []string{
		filepath.Join(root, "replicas", "a"),
		filepath.Join(root, "replicas", "b"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}

	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.SealingKey, key, 0o600); err != nil {
		t.Fatalf("writing sealing key: %v", err)
	}
	return cfg
}

// startService opens the service and serves its socket until the test
// ends. It returns a client for the socket.
func startService(t *testing.T, cfg *config.Config, clk clock.Clock) (*StampService, *service.ServiceClient) {
	t.Helper()

	stamp, cleanup, err := open(context.Background(), cfg, clk, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	server := service.NewSocketServer(cfg.Paths.Socket, nil)
	stamp.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		cleanup()
	})

	for {
		if _, err := os.Stat(cfg.Paths.Socket); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatal("socket never appeared")
		}
		time.Sleep(time.Millisecond)
	}
	return stamp, service.NewServiceClient(cfg.Paths.Socket)
}

func issueRequests(count int) []issuance.Request {
	requests := make([]issuance.Request, count)
	for i := range requests {
		requests[i] = issuance.Request{
			SubjectRef: "subject-" + string(rune('a'+i%26)),
			Category:   issuance.CategoryProductCert,
			ExpiresAt:  testEpoch.AddDate(1, 0, 0),
		}
	}
	return requests
}

func TestOpenRequiresSealingKey(t *testing.T) {
	cfg := testConfig(t)
	if err := os.Remove(cfg.Paths.SealingKey); err != nil {
		t.Fatalf("removing key: %v", err)
	}
	_, _, err := open(context.Background(), cfg, clock.Fake(testEpoch), nil)
	if err == nil {
		t.Fatal("expected error without a sealing key")
	}
}

func TestIssueAndVerify(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.Fake(testEpoch)
	_, client := startService(t, cfg, clk)
	ctx := context.Background()

	requests := issueRequests(25)
	requests[3].SubjectRef = ""

	var batch issuance.Batch
	if err := client.Call(ctx, "issue", issuance.IssueRequest{Requests: requests}, &batch); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if batch.RequestedCount != 25 || len(batch.Succeeded) != 24 || len(batch.Failed) != 1 {
		t.Fatalf("batch: requested %d, succeeded %d, failed %d",
			batch.RequestedCount, len(batch.Succeeded), len(batch.Failed))
	}
	if failure := batch.Failed[0]; failure.Position != 3 || failure.Kind != issuance.KindInvalidRequest {
		t.Errorf("failure = %+v", failure)
	}
	if batch.SubBatches != 3 {
		t.Errorf("SubBatches = %d, want 3", batch.SubBatches)
	}

	issued := batch.Succeeded[0].Artifact
	if issued.ID != "ua-mvs-20261016-00000001" {
		t.Errorf("first id = %q", issued.ID)
	}

	payload, err := build.EncodePayload(issued)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	var verified issuance.VerifyResponse
	if err := client.Call(ctx, "verify", issuance.VerifyRequest{RawPayload: string(payload)}, &verified); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Outcome != issuance.OutcomeMatch {
		t.Errorf("outcome = %s, want MATCH", verified.Outcome)
	}
	if verified.Stored == nil || verified.Stored.Artifact.PayloadHash != issued.PayloadHash {
		t.Errorf("stored = %+v", verified.Stored)
	}

	claimed := build.Payload(issued)
	claimed.SubjectRef = "forged"
	if err := client.Call(ctx, "verify", issuance.VerifyRequest{Claimed: &claimed}, &verified); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Outcome != issuance.OutcomeMismatch {
		t.Errorf("forged outcome = %s, want MISMATCH", verified.Outcome)
	}

	unknown := build.Payload(issued)
	unknown.ID = "ua-mvs-20261016-99999999"
	if err := client.Call(ctx, "verify", issuance.VerifyRequest{Claimed: &unknown}, &verified); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Outcome != issuance.OutcomeNotFound {
		t.Errorf("unknown outcome = %s, want NOT_FOUND", verified.Outcome)
	}
}

func TestIssueRetryUnderBatchID(t *testing.T) {
	cfg := testConfig(t)
	_, client := startService(t, cfg, clock.Fake(testEpoch))
	ctx := context.Background()

	body := issuance.IssueRequest{Requests: issueRequests(5), BatchID: "batch-retry"}
	var first, second issuance.Batch
	if err := client.Call(ctx, "issue", body, &first); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := client.Call(ctx, "issue", body, &second); err != nil {
		t.Fatalf("issue retry: %v", err)
	}
	for i := range first.Succeeded {
		if first.Succeeded[i].Artifact.ID != second.Succeeded[i].Artifact.ID {
			t.Errorf("position %d: %s then %s", i, first.Succeeded[i].Artifact.ID, second.Succeeded[i].Artifact.ID)
		}
	}
}

func TestVerifyRequiresOneClaim(t *testing.T) {
	cfg := testConfig(t)
	_, client := startService(t, cfg, clock.Fake(testEpoch))
	ctx := context.Background()

	var serviceError *service.ServiceError
	err := client.Call(ctx, "verify", issuance.VerifyRequest{}, nil)
	if !errors.As(err, &serviceError) {
		t.Fatalf("empty verify: expected *ServiceError, got %v", err)
	}

	claimed := issuance.Payload{ID: "ua-mvs-20261016-00000001"}
	err = client.Call(ctx, "verify", issuance.VerifyRequest{Claimed: &claimed, RawPayload: "{}"}, nil)
	if !errors.As(err, &serviceError) {
		t.Fatalf("double verify: expected *ServiceError, got %v", err)
	}
}

func TestShardLifecycleOverSocket(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.Fake(testEpoch)
	stamp, client := startService(t, cfg, clk)
	ctx := context.Background()

	var batch issuance.Batch
	if err := client.Call(ctx, "issue", issuance.IssueRequest{Requests: issueRequests(4)}, &batch); err != nil {
		t.Fatalf("issue: %v", err)
	}
	shardID := batch.Succeeded[0].Placement.ShardID

	var status issuance.StatusResponse
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Authority != "ua-mvs" || status.OpenShards != 1 || status.Replicas != 2 {
		t.Errorf("status = %+v", status)
	}

	// An open shard cannot be exported.
	var serviceError *service.ServiceError
	err := client.Call(ctx, "export", issuance.ExportRequest{ShardID: shardID}, nil)
	if !errors.As(err, &serviceError) {
		t.Fatalf("export of open shard: expected *ServiceError, got %v", err)
	}

	clk.Advance(time.Hour)
	if err := stamp.shards.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	var sealedShard issuance.Shard
	if err := client.Call(ctx, "shard", issuance.ShardRequest{ShardID: shardID}, &sealedShard); err != nil {
		t.Fatalf("shard: %v", err)
	}
	if sealedShard.State != issuance.ShardSealed || sealedShard.ArtifactCount != 4 || sealedShard.Checksum.IsZero() {
		t.Errorf("shard = %+v", sealedShard)
	}

	var listing issuance.ShardsResponse
	if err := client.Call(ctx, "shards", issuance.ShardsRequest{State: issuance.ShardSealed}, &listing); err != nil {
		t.Fatalf("shards: %v", err)
	}
	if len(listing.Shards) != 1 || listing.Shards[0].ShardID != shardID {
		t.Errorf("sealed shards = %+v", listing.Shards)
	}

	var bundle issuance.Bundle
	if err := client.Call(ctx, "export", issuance.ExportRequest{ShardID: shardID, Compression: "lz4"}, &bundle); err != nil {
		t.Fatalf("export: %v", err)
	}
	if bundle.Compression != "lz4" || bundle.Checksum != sealedShard.Checksum {
		t.Errorf("bundle = %+v", bundle)
	}
	_, artifacts, err := shard.ReadBundle(bundle.Path, nil)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if len(artifacts) != 4 {
		t.Errorf("bundle holds %d artifacts, want 4", len(artifacts))
	}

	var stats issuance.Stats
	if err := client.Call(ctx, "stats", nil, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalArtifacts != 4 || stats.ShardsByState[issuance.ShardSealed] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestShardNotFoundOverSocket(t *testing.T) {
	cfg := testConfig(t)
	_, client := startService(t, cfg, clock.Fake(testEpoch))

	var serviceError *service.ServiceError
	err := client.Call(context.Background(), "shard", issuance.ShardRequest{ShardID: "2026101609-0009"}, nil)
	if !errors.As(err, &serviceError) {
		t.Fatalf("expected *ServiceError, got %v", err)
	}
}

func TestRunSweepsSealsOnTick(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.Fake(testEpoch)
	stamp, client := startService(t, cfg, clk)
	ctx := context.Background()

	var batch issuance.Batch
	if err := client.Call(ctx, "issue", issuance.IssueRequest{Requests: issueRequests(2)}, &batch); err != nil {
		t.Fatalf("issue: %v", err)
	}
	shardID := batch.Succeeded[0].Placement.ShardID

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		stamp.runSweeps(sweepCtx, time.Minute)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	clk.WaitForTickers(1)
	clk.Advance(time.Hour)

	for {
		shard, err := stamp.shards.Shard(ctx, shardID)
		if err != nil {
			t.Fatalf("Shard: %v", err)
		}
		if shard.State == issuance.ShardSealed {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("shard %s still %s after sweep tick", shardID, shard.State)
		}
		time.Sleep(time.Millisecond)
	}
}

package storage

import (
	"testing"

	"github.com/cockroachdb/pebble"

	"github.com/cequals/electrs/pkg/log"
)

func TestBuildEngineOptionsWritable(t *testing.T) {
	cfg := testConfig()
	opts := buildEngineOptions(cfg, log.Default().Module("storage"))

	if opts.ReadOnly {
		t.Error("ReadOnly = true for writable config")
	}
	if opts.ErrorIfNotExists {
		t.Error("ErrorIfNotExists = true for writable config; creation must be permitted")
	}
	if opts.MaxOpenFiles != maxOpenFiles {
		t.Errorf("MaxOpenFiles = %d, want %d", opts.MaxOpenFiles, maxOpenFiles)
	}
	if opts.MemTableSize != memTableSize {
		t.Errorf("MemTableSize = %d, want %d", opts.MemTableSize, memTableSize)
	}
	if !opts.DisableAutomaticCompactions {
		t.Error("DisableAutomaticCompactions = false; bulk load requires it disabled at open")
	}
	if got := opts.MaxConcurrentCompactions(); got != compactionProcs {
		t.Errorf("MaxConcurrentCompactions() = %d, want %d", got, compactionProcs)
	}
	if opts.Logger == nil {
		t.Error("engine Logger not installed")
	}
}

func TestBuildEngineOptionsLevels(t *testing.T) {
	opts := buildEngineOptions(testConfig(), log.Default().Module("storage"))

	if len(opts.Levels) == 0 {
		t.Fatal("no level options configured")
	}
	for i, l := range opts.Levels {
		if l.Compression != pebble.SnappyCompression {
			t.Errorf("level %d compression = %v, want Snappy", i, l.Compression)
		}
		if l.TargetFileSize != targetFileSize {
			t.Errorf("level %d target file size = %d, want %d", i, l.TargetFileSize, targetFileSize)
		}
	}
}

func TestBuildEngineOptionsReadOnly(t *testing.T) {
	cfg := testConfig()
	cfg.ReadOnly = true
	opts := buildEngineOptions(cfg, log.Default().Module("storage"))

	if !opts.ReadOnly {
		t.Error("ReadOnly = false for read-only config")
	}
	if !opts.ErrorIfNotExists {
		t.Error("ErrorIfNotExists = false; a read-only open must never create the directory")
	}
}

func TestFlushPolicyMapping(t *testing.T) {
	if FlushDurable.writeOptions() != pebble.Sync {
		t.Error("durable policy does not map to a synced commit")
	}
	if FlushFast.writeOptions() != pebble.NoSync {
		t.Error("fast policy does not map to an unsynced commit")
	}
	if FlushDurable.String() != "durable" || FlushFast.String() != "fast" {
		t.Errorf("policy names = %q/%q, want durable/fast", FlushDurable, FlushFast)
	}
}

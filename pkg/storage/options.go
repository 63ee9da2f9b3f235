package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/cequals/electrs/pkg/config"
	"github.com/cequals/electrs/pkg/log"
)

// Engine tuning for the indexing workload. The index touches very many
// on-disk segments under random access, hence the high open-file
// ceiling; the large file and memtable sizes reduce write
// amplification during bulk import.
const (
	maxOpenFiles    = 100_000
	targetFileSize  = 1 << 30   // 1 GiB
	memTableSize    = 256 << 20 // 256 MiB
	compactionProcs = 2
)

// buildEngineOptions derives the static engine configuration from the
// operating mode. Automatic background compaction starts disabled: the
// bulk-load phase trades one controlled FullCompaction at the end for
// freedom from compaction stalls during the import, and the caller
// re-enables it via EnableAutoCompaction once the import completes.
// Directory creation is permitted only when the mode allows writes.
func buildEngineOptions(cfg config.Config, lg *log.Logger) *pebble.Options {
	opts := &pebble.Options{
		ReadOnly:                    cfg.ReadOnly,
		ErrorIfNotExists:            cfg.ReadOnly,
		MaxOpenFiles:                maxOpenFiles,
		MemTableSize:                memTableSize,
		DisableAutomaticCompactions: true,
		MaxConcurrentCompactions:    func() int { return compactionProcs },
		Logger:                      engineLogger{lg: lg},
	}
	// Leveled compaction with block compression on every level.
	opts.Levels = make([]pebble.LevelOptions, 7)
	for i := range opts.Levels {
		l := &opts.Levels[i]
		l.TargetFileSize = targetFileSize
		l.Compression = pebble.SnappyCompression
		l.EnsureDefaults()
	}
	return opts
}

// engineLogger routes the engine's own log output into the storage
// logger. Engine chatter goes out at debug level; Fatalf matches the
// layer's abort-on-unexpected-failure policy.
type engineLogger struct {
	lg *log.Logger
}

func (e engineLogger) Infof(format string, args ...interface{}) {
	e.lg.Debug(fmt.Sprintf(format, args...))
}

func (e engineLogger) Errorf(format string, args ...interface{}) {
	e.lg.Error(fmt.Sprintf(format, args...))
}

func (e engineLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	e.lg.Error(msg)
	panic("storage: engine: " + msg)
}

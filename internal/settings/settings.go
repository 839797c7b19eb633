// Package settings defines the engine's configuration surface as a single
// immutable value, per Design Note §9 ("Global configuration singleton...
// treat as an immutable Settings value built at startup and passed down
// explicitly"). Grounded on internal/config/config.go's declarative,
// non-hot-reloaded value type; nothing here reads an environment variable
// or a global — a loader outside this module's scope populates the value.
package settings

import "time"

// MemStoreSettings configures the top-level memstore directory.
type MemStoreSettings struct {
	ChunksToKeep   int
	MaxChunksSize  int
	MaxNumPartitions int
	GroupsPerShard int
	ShardMemoryMB  int
}

// StoreSettings configures flush behavior and remote-store interaction.
type StoreSettings struct {
	FlushInterval         time.Duration
	DiskTimeToLive        time.Duration
	ShardMemSize          int64
	IngestionBufferMemSize int64
	DemandPagingEnabled   bool
	MultiPartitionODP     bool
}

// DownsamplerSettings configures the downsample pipeline's retained
// resolutions and batch parameters.
type DownsamplerSettings struct {
	Resolutions              []time.Duration
	TTLs                     []time.Duration
	RawSchemaNames           []string
	NumPartitionsPerBatchWrite int
	OffHeapBlockMemorySize   int64
	OffHeapNativeMemorySize  int64
	WidenIngestionTimeRangeBy time.Duration
	UserTimeOverride         *int64 // optional epoch ms
}

// QuerySettings configures query execution limits.
type QuerySettings struct {
	SampleLimit int
	AskTimeout  time.Duration
}

// Settings is the full immutable configuration surface, built once at
// process start and threaded through constructors explicitly.
type Settings struct {
	MemStore   MemStoreSettings
	Store      StoreSettings
	Downsample DownsamplerSettings
	Query      QuerySettings
}

// Default returns a Settings populated with conservative defaults, useful
// as a base for tests and for callers that only need to override a few
// fields.
func Default() Settings {
	return Settings{
		MemStore: MemStoreSettings{
			ChunksToKeep:     4,
			MaxChunksSize:    1000,
			MaxNumPartitions: 100_000,
			GroupsPerShard:   4,
			ShardMemoryMB:    512,
		},
		Store: StoreSettings{
			FlushInterval:          time.Hour,
			DiskTimeToLive:         7 * 24 * time.Hour,
			ShardMemSize:           256 << 20,
			IngestionBufferMemSize: 64 << 20,
			DemandPagingEnabled:    true,
			MultiPartitionODP:      false,
		},
		Downsample: DownsamplerSettings{
			Resolutions:                []time.Duration{5 * time.Minute, time.Hour},
			TTLs:                       []time.Duration{30 * 24 * time.Hour, 365 * 24 * time.Hour},
			NumPartitionsPerBatchWrite: 100,
			WidenIngestionTimeRangeBy:  10 * time.Minute,
		},
		Query: QuerySettings{
			SampleLimit: 1_000_000,
			AskTimeout:  30 * time.Second,
		},
	}
}

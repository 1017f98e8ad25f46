package store

// MaxTransactItems is DynamoDB's limit on items in one TransactWriteItems call.
const MaxTransactItems = 100

// maxBatchGetKeys is DynamoDB's limit on keys in one BatchGetItem call.
const maxBatchGetKeys = 100

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the document table.
	// Default: "teamsync_documents"
	Table string `env:"TEAMSYNC_TABLE" envDefault:"teamsync_documents"`

	// NumShards is the number of partition shards per collection.
	// Higher values spread hot collections (e.g. "campaigns") over more partitions
	// but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int `env:"TEAMSYNC_NUM_SHARDS" envDefault:"1"`

	// MaxBatchOps is the operation limit of one atomic commit.
	// Default and max: 100 (DynamoDB TransactWriteItems limit)
	MaxBatchOps int `env:"TEAMSYNC_MAX_BATCH_OPS" envDefault:"100"`
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:       "teamsync_documents",
		NumShards:   1,
		MaxBatchOps: MaxTransactItems,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "teamsync_documents"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.MaxBatchOps < 1 || c.MaxBatchOps > MaxTransactItems {
		c.MaxBatchOps = MaxTransactItems
	}
}

// Package store provides a hierarchical document store over a single DynamoDB table.
//
// Documents are addressed by slash-separated paths of alternating collection
// and document ids ("teams/t1/campaignsSettings/c1"). Each document is one
// item keyed by the sharded path of its collection and its id:
//
//	pk = "teams/t1/campaignsSettings#00"
//	sk = "c1"
//
// so every document of a collection can be listed with one Query per shard.
//
// # Client
//
// The rest of the module depends on the [Client] interface. [Store]
// implements it over DynamoDB; the storetest package provides an in-memory
// implementation for tests.
//
// # Atomic commits
//
// [Store.Commit] applies a list of [Op] values in one TransactWriteItems
// call, so a commit is bounded by [Config].MaxBatchOps (at most
// [MaxTransactItems]). Callers with longer op lists split them into chunks.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards for collections with hot write traffic:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist, or an update targeted a missing document
//   - [ErrAlreadyExists] - generated id collided with an existing document
//   - [ErrInvalidArgument] - malformed path, id, field path or filter
//   - [ErrTooManyOps] - commit exceeds the per-transaction limit
package store

// Package shard provides partition key generation for collection paths stored in DynamoDB.
package shard

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// CollectionPK computes the sharded partition key for a document in a collection.
// With numShards=1, all documents of a collection go to shard "00".
// With numShards>1, documents are distributed across shards based on the document id hash.
func CollectionPK(collectionPath, docID string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", collectionPath)
	}
	h := fnv.New32a()
	h.Write([]byte(docID))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", collectionPath, shard)
}

// ShardPK returns the partition key of a single shard of a collection.
// Queries fan out over ShardPK(collectionPath, 0..numShards-1).
func ShardPK(collectionPath string, shardNum int) string {
	return fmt.Sprintf("%s#%02x", collectionPath, shardNum)
}

// SplitPK reverses CollectionPK, returning the collection path and the shard number.
// ok is false when pk does not carry a shard suffix.
func SplitPK(pk string) (collectionPath string, shardNum int, ok bool) {
	i := strings.LastIndexByte(pk, '#')
	if i <= 0 || i == len(pk)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(pk[i+1:], 16, 8)
	if err != nil {
		return "", 0, false
	}
	return pk[:i], int(n), true
}

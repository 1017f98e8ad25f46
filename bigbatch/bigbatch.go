// Package bigbatch commits operation lists larger than one store transaction.
//
// A Writer splits the list into chunks no larger than the store's per-commit
// limit and commits them in order. Each chunk is atomic; the list as a whole
// is not. When chunk k fails, chunks before k stay committed and chunks after
// k are never attempted.
package bigbatch

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jacentio/teamsync/store"
)

var tracer = otel.Tracer("github.com/jacentio/teamsync/bigbatch")

// Committer applies one atomic chunk.
type Committer interface {
	Commit(ctx context.Context, ops []store.Op) error
}

// limiter is implemented by committers that publish their per-commit limit.
type limiter interface {
	MaxBatchOps() int
}

// PartialCommitError reports a failure after earlier chunks were committed.
type PartialCommitError struct {
	// Chunk is the zero-based index of the failed chunk.
	Chunk int

	// Chunks is the total number of chunks.
	Chunks int

	// Committed is the number of operations already committed.
	Committed int

	// Err is the store error of the failed chunk.
	Err error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("bigbatch: chunk %d/%d failed after %d ops committed: %v",
		e.Chunk+1, e.Chunks, e.Committed, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// Writer commits arbitrarily long op lists as sequential atomic chunks.
type Writer struct {
	committer Committer
	chunkSize int
	logger    *slog.Logger
}

// New creates a Writer. chunkSize is clamped to the committer's MaxBatchOps when
// it publishes one; a non-positive chunkSize means "use the committer's limit".
func New(committer Committer, chunkSize int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if l, ok := committer.(limiter); ok {
		if limit := l.MaxBatchOps(); limit > 0 && (chunkSize <= 0 || chunkSize > limit) {
			chunkSize = limit
		}
	}
	if chunkSize <= 0 {
		chunkSize = store.MaxTransactItems
	}
	return &Writer{
		committer: committer,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// ChunkSize returns the effective chunk size.
func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

// Commit commits ops chunk by chunk, in order.
// A failure of the first chunk is returned unchanged since nothing was committed;
// a later failure is returned as *PartialCommitError.
func (w *Writer) Commit(ctx context.Context, ops []store.Op) error {
	chunks := Split(ops, w.chunkSize)

	committed := 0
	for i, chunk := range chunks {
		if err := w.commitChunk(ctx, i, len(chunks), chunk); err != nil {
			if i == 0 {
				return err
			}
			w.logger.ErrorContext(ctx, "chunk commit failed after partial progress",
				"chunk", i,
				"chunks", len(chunks),
				"committedOps", committed,
				"error", err,
			)
			return &PartialCommitError{Chunk: i, Chunks: len(chunks), Committed: committed, Err: err}
		}
		committed += len(chunk)
	}
	return nil
}

func (w *Writer) commitChunk(ctx context.Context, index, total int, chunk []store.Op) error {
	ctx, span := tracer.Start(ctx, "bigbatch.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("bigbatch.chunk", index),
		attribute.Int("bigbatch.chunks", total),
		attribute.Int("bigbatch.ops", len(chunk)),
	)

	if err := w.committer.Commit(ctx, chunk); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}
	return nil
}

// Split partitions ops into consecutive chunks of at most size operations.
func Split(ops []store.Op, size int) [][]store.Op {
	if len(ops) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(ops)
	}
	chunks := make([][]store.Op, 0, (len(ops)+size-1)/size)
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		chunks = append(chunks, ops[start:end:end])
	}
	return chunks
}

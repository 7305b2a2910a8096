package storage

// DefaultCollection is the Qdrant collection chunks are published to.
const DefaultCollection = "clinical_notes"

// VectorName is the named vector holding chunk embeddings.
const VectorName = "content"

// Payload fields stored with every chunk point.
const (
	fieldDocumentID = "document_id"
	fieldSource     = "source"
	fieldChunkIndex = "chunk_index"
	fieldOffset     = "char_offset"
	fieldContent    = "content"
	fieldModel      = "model"
)

// upsertBatchSize is the number of points sent per upsert request.
const upsertBatchSize = 100

// CollectionInfo contains collection statistics.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	Dimension   uint64
}

package port

import "context"

// DocumentInfo is the read-only slice of document metadata the pipeline
// needs. The CRUD layer owning the full record sits outside this
// module.
type DocumentInfo struct {
	ID         string
	OwnerID    string
	SizeBytes  int64
	StorageRef string
}

type DocumentRepository interface {
	Get(ctx context.Context, documentID string) (*DocumentInfo, error)
}

package models

import "time"

// DefaultSnapshotID asks a provider for the table's current snapshot.
const DefaultSnapshotID int64 = -1

// PartitionKey holds the partition column values identifying one partition.
type PartitionKey struct {
	Values []string `json:"values"`
}

// PartitionInfo describes a partition as reported by a connector.
type PartitionInfo struct {
	Name         string    `json:"name"`
	FullPath     string    `json:"full_path,omitempty"`
	ModifiedTime time.Time `json:"modified_time"`
	RowCount     int64     `json:"row_count"`
}

// RemoteFileDesc is one data file backing a partition.
type RemoteFileDesc struct {
	FileName         string    `json:"file_name"`
	Length           int64     `json:"length"`
	ModificationTime time.Time `json:"modification_time"`
}

// RemoteFileInfo groups the data files of one partition location.
type RemoteFileInfo struct {
	Format string           `json:"format"`
	Path   string           `json:"path"`
	Files  []RemoteFileDesc `json:"files"`
}

// RemoteFileRequest narrows a remote file listing.
type RemoteFileRequest struct {
	PartitionKeys []PartitionKey
	SnapshotID    int64
	Predicate     Predicate
	FieldNames    []string
}

// NewRemoteFileRequest lists files of the current snapshot for the given partitions.
func NewRemoteFileRequest(keys []PartitionKey) RemoteFileRequest {
	return RemoteFileRequest{PartitionKeys: keys, SnapshotID: DefaultSnapshotID}
}

// SinkCommitInfo is reported by a backend after writing a table sink
// fragment. The federation layer passes it to the connector unchanged.
type SinkCommitInfo struct {
	BackendID   string   `json:"backend_id"`
	Files       []string `json:"files"`
	RowCount    int64    `json:"row_count"`
	IsOverwrite bool     `json:"is_overwrite"`
}

// Package blob abstracts the remote snapshot storage used by sync: named
// binary blobs that can be uploaded, downloaded, and enumerated. Backends
// are opaque byte stores; the snapshot format is the caller's concern.
package blob

import "context"

// Transport moves snapshot blobs between the device and remote storage.
//
// Download returns common.ErrNotFound for a name that was never uploaded;
// a first sync treats that as an empty remote, not a failure.
type Transport interface {
	Upload(ctx context.Context, name string, data []byte) error
	Download(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)

	// Ping probes reachability; used by IsOnline.
	Ping(ctx context.Context) error
}

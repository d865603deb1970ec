package upload

import "context"

// Uploader uploads a local artifact directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files under localDir, preserving its layout
	// under the configured remote prefix.
	Upload(ctx context.Context, localDir string) error
}

package snapshot

import (
	"context"
	"fmt"
	"os"
)

// Open selects an Archive implementation using environment variables.
//
//	RECORDCORE_SNAPSHOT_DRIVER: fs|s3|memory (default fs)
//	RECORDCORE_SNAPSHOT_FS_ROOT: directory root when driver=fs (default ./snapshotdata)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Archive, error) {
	driver := os.Getenv("RECORDCORE_SNAPSHOT_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("RECORDCORE_SNAPSHOT_FS_ROOT")
		return NewFilesystem(root)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %s", driver)
	}
}

// pkg/meta/config.go

package meta

import (
	"fmt"
	"strings"
)

// Config for clients.
type Config struct {
	ReadOnly bool
	Retries  int
}

// Format is the volume layout written at format time.
type Format struct {
	Name            string
	UUID            string
	Device          string
	ClusterSize     int
	TotalClusters   int64
	BitmapClusters  int64
	Compression     string
	CompressionUnit int
	Version         int
}

// Check validates the layout fields.
func (f *Format) Check() error {
	if f.ClusterSize < 512 || f.ClusterSize&(f.ClusterSize-1) != 0 {
		return fmt.Errorf("cluster size %d is not a power of two >= 512", f.ClusterSize)
	}
	if f.TotalClusters <= f.BitmapClusters {
		return fmt.Errorf("volume of %d clusters cannot hold its bitmap (%d clusters)", f.TotalClusters, f.BitmapClusters)
	}
	if f.CompressionUnit < 0 || f.CompressionUnit > 8 {
		return fmt.Errorf("compression unit exponent %d out of range", f.CompressionUnit)
	}
	return nil
}

// RemoveSecret hides a password embedded in the device URI.
func (f *Format) RemoveSecret() {
	if p := strings.Index(f.Device, "://"); p > 0 {
		if at := strings.LastIndex(f.Device, "@"); at > p {
			if c := strings.Index(f.Device[p+3:at], ":"); c >= 0 {
				f.Device = f.Device[:p+3+c+1] + "removed" + f.Device[at:]
			}
		}
	}
}

// pkg/utils/utils.go

package utils

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Ceil returns the number of size-sized units needed to hold n.
func Ceil(n, size int64) int64 {
	return (n + size - 1) / size
}

// RoundUp rounds n up to a multiple of size.
func RoundUp(n, size int64) int64 {
	return Ceil(n, size) * size
}

// RoundDown rounds n down to a multiple of size.
func RoundDown(n, size int64) int64 {
	return n - n%size
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewProgressBar init a progress bar with a known total, the title will appear at the head of the bar
func NewProgressBar(title string, total int64, quiet bool) (*mpb.Progress, *mpb.Bar) {
	var progress *mpb.Progress
	if !quiet && isatty.IsTerminal(os.Stdout.Fd()) {
		progress = mpb.New(mpb.WithWidth(64))
	} else {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(nil))
	}
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}

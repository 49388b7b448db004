// airwaydefects injects synthetic defects into airway tree masks and scores
// segmentations against references.
//
// Usage:
//
//	airwaydefects inject --labels <dir> --measures <dir> --images-info <csv> -o <dir>
//	airwaydefects evaluate --masks <dir> --centerlines <dir> --reference <dir> --reference-centerlines <dir> -o <csv>
//	airwaydefects extent --provenance <dir> --measures <dir> --images-info <csv> -o <csv>
//	airwaydefects postprocess --posteriors <dir> [--coarse <dir>] -o <dir>
//	airwaydefects info --images <dir> -o <csv>
//	airwaydefects config init [path]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

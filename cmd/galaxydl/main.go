// Command galaxydl is the CLI front end for the download/update/repair/
// patch engine (spec.md §6 "CLI subcommands (surface, not implementation)").
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "download", "update", "repair":
		err = runInstall(cmd, rest)
	case "info":
		err = runInfo(rest)
	case "redist":
		err = runRedist(rest)
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "galaxydl: unknown command %q\n\n", cmd)
		usage()
		return 1
	}

	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "galaxydl: %v\n", err)
	return exitCodeFor(err)
}

func usage() {
	fmt.Fprint(os.Stderr, `galaxydl - GOG Galaxy content download/update/repair engine

Usage:
  galaxydl download <product-id> --path <dir> [flags]
  galaxydl update   <product-id> --path <dir> [flags]
  galaxydl repair   <product-id> --path <dir> [flags]
  galaxydl info     <product-id> [flags]
  galaxydl redist   <id>[,<id>...] --path <dir> [flags]

Flags (download/update/repair; info accepts only --platform, --lang, --build,
--branch, --password and --force-gen; redist accepts only --path, --support,
--config and --max-workers):
  --path string           Install root (required for download/update/repair)
  --support string        Support-files root
  --config string         Config root for persisted manifests (default: <path>/.galaxydl)
  --platform string       windows|osx|linux (default "linux")
  --lang string           Language tag (default "en-US")
  --build string          Pin a specific build id
  --branch string         Beta branch name
  --password string       Beta branch password
  --with-dlcs             Include every DLC the manifest lists (Gen-2 builds only)
  --skip-dlcs             Install base product only (overrides --dlcs and --with-dlcs)
  --dlcs string           Comma-separated DLC id list
  --dlc-only              Install only the listed DLCs, not the base product
  --max-workers int        Downloader worker count (default: NumCPU)
  --force-gen int          Force content-system generation 1 or 2
  --metrics-addr string    Expose Prometheus metrics at this address (off by default)

Exit codes: 0 success, 1 fatal, 2 out of disk, negative = terminated by signal.
`)
}

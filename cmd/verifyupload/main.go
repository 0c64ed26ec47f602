package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Globals are the flags shared by every command.
type Globals struct {
	EnvFile     []string      `name:"env-file" help:"Dotenv files loaded before reading WASABI_* variables." default:".env"`
	DryRun      bool          `name:"dry-run" help:"Upload to an in-memory store that verifies digests like the real one."`
	Verbose     bool          `short:"v" help:"Enable debug logging."`
	KeyPrefix   string        `name:"key-prefix" help:"Prefix of the generated object keys." default:"verify-demo"`
	Zstd        bool          `name:"zstd" help:"Compress every file with zstd before uploading it."`
	ZstdLevel   string        `name:"zstd-level" help:"zstd level: fastest, default, better or best." default:"default"`
	CallTimeout time.Duration `name:"call-timeout" help:"Deadline of every single store call." default:"5m"`
}

// CLI ...
type CLI struct {
	Globals

	Put       PutCmd       `cmd:"" help:"Upload files in one request with a declared Content-MD5."`
	Multipart MultipartCmd `cmd:"" help:"Upload files in parts, each carrying its own CRC32C."`
	Demo      DemoCmd      `cmd:"" help:"Run a normal and a negative upload in both modes."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("verifyupload"),
		kong.Description("Integrity-verified uploads to S3 compatible object storage."),
		kong.UsageOnError(),
	)

	logger := log.NewLogger()
	logger.EnableDebugLog(cli.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRunner(ctx, cli.Globals, logger)
	if err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
	defer r.cleanup()

	if err := kctx.Run(r); err != nil {
		logger.Errorf("%s", err)
		r.cleanup()
		os.Exit(1)
	}
}

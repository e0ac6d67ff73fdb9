package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/brandvoice/internal/app"
	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/internal/types"
	"github.com/xhad/brandvoice/pkg/pipeline"
	"github.com/xhad/brandvoice/server"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// embedProgress draws a bar once the chunk count is known.
func embedProgress() (types.ProgressFunc, func()) {
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = getProgressBar(total, "Embedding chunks...")
		}
		_ = bar.Set(done)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Println()
		}
	}
	return progress, finish
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func requireIndex(name string) error {
	if name == "" {
		return errors.New("-index is required")
	}
	return nil
}

func runServe(ctx context.Context, deps *app.Dependencies, args []string) error {
	flags := newFlagSet("serve")
	port := flags.String("port", deps.Config.Server.Port, "Port to listen on")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	srv := server.New(deps.Service, server.Config{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		RequestTimeout: deps.Config.Server.RequestTimeout,
		MaxUploadBytes: deps.Config.Server.MaxUploadBytes,
	}, deps.Logger.Named("server"))

	color.Blue("Serving brand voice API on :%s", *port)
	return srv.Run(ctx, ":"+*port)
}

func runIngest(ctx context.Context, deps *app.Dependencies, args []string) error {
	flags := newFlagSet("ingest")
	index := flags.String("index", "", "Index to store chunks in")
	url := flags.String("url", "", "PDF or HTML page to ingest")
	file := flags.String("file", "", "Local PDF to ingest")
	voice := flags.Bool("voice", false, "Answer the brand voice question after ingesting")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}
	if err := requireIndex(*index); err != nil {
		return err
	}

	var upload *pipeline.Upload
	if *url == "" && *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", *file, err)
		}
		upload = &pipeline.Upload{
			Filename:    filepath.Base(*file),
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(*file))),
			Data:        data,
		}
	}

	progress, finish := embedProgress()

	if *voice {
		color.Blue("\nExtracting brand voice into %s\n", *index)
		result, err := deps.Service.GenerateBrandVoice(ctx, pipeline.BrandVoiceRequest{
			IndexName: *index,
			URL:       *url,
			Upload:    upload,
		}, progress)
		finish()
		if err != nil {
			return err
		}
		printIngest(result.Ingest)
		color.Cyan("\nBrand Voice: %s\n", result.Answer)
		return nil
	}

	color.Blue("\nIngesting into %s\n", *index)
	var (
		result models.IngestResult
		err    error
	)
	switch {
	case *url != "":
		result, err = deps.Service.IngestURL(ctx, *index, *url, progress)
	case upload != nil:
		var doc models.Document
		doc, err = deps.Service.ExtractUpload(*upload)
		if err == nil {
			result, err = deps.Service.Ingest(ctx, *index, doc, progress)
		}
	default:
		err = pipeline.ErrNoInput
	}
	finish()
	if err != nil {
		return err
	}

	printIngest(result)
	return nil
}

func printIngest(result models.IngestResult) {
	if result.Skipped {
		color.Yellow("Index %s already exists, nothing ingested", result.Index)
		return
	}
	color.Green("✓ Stored %d of %d chunks in %s", result.Stored, result.Chunks, result.Index)
	if result.Failed > 0 {
		color.Red("✗ %d chunks failed to embed: %s", result.Failed, strings.Join(result.FailedIDs, ", "))
	}
}

func runAsk(ctx context.Context, deps *app.Dependencies, args []string) error {
	flags := newFlagSet("ask")
	index := flags.String("index", "", "Index to answer from")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}
	if err := requireIndex(*index); err != nil {
		return err
	}

	if flags.NArg() > 0 {
		return ask(ctx, deps, *index, strings.Join(flags.Args(), " "))
	}

	color.Cyan("\nAsk about %s (type 'exit' to quit)", *index)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		if err := ask(ctx, deps, *index, question); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.Red("Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// ask streams one answer to stdout.
func ask(ctx context.Context, deps *app.Dependencies, index, question string) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	spinner := getSpinner(" Thinking...")
	firstChunk := true

	_, err := deps.Service.QueryStream(ctx, index, question, func(chunk string) error {
		if firstChunk {
			_ = spinner.Finish()
			firstChunk = false
			fmt.Print("\r")
			assistantPrompt("Assistant: ")
		}
		fmt.Print(chunk)
		return nil
	})
	if firstChunk {
		_ = spinner.Finish()
	}
	fmt.Println()
	return err
}

func runDelete(ctx context.Context, deps *app.Dependencies, args []string) error {
	flags := newFlagSet("delete")
	index := flags.String("index", "", "Index to delete")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}
	if err := requireIndex(*index); err != nil {
		return err
	}

	existed, err := deps.Service.DeleteIndex(ctx, *index)
	if err != nil {
		return err
	}
	if !existed {
		color.Yellow("Index %s did not exist", *index)
		return nil
	}
	color.Green("✓ Index %s deleted successfully", *index)
	return nil
}

func runIndexes(ctx context.Context, deps *app.Dependencies, args []string) error {
	names, err := deps.Service.ListIndexes(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		color.Yellow("No indexes")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

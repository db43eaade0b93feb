package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/teleprompt/teleprompt/pkg/client"
	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/payload"
)

const usage = `teleprompt - send a text snippet or image to your receiving tabs

Usage:
  teleprompt [flags]              upload -text and/or -image
  teleprompt -i                   interactive mode: each line is uploaded
  teleprompt -ping                check the relay server's health
  echo "hello" | teleprompt       upload stdin as text

Flags:
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	text := flag.String("text", "", "text snippet to upload")
	image := flag.String("image", "", "image file to upload")
	interactive := flag.Bool("i", false, "interactive mode")
	ping := flag.Bool("ping", false, "check relay server health")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	relay, err := client.New(cfg.Relay)
	if err != nil {
		fatal("invalid relay config: %v", err)
	}

	ctx := context.Background()

	if *ping {
		if err := relay.Health(ctx); err != nil {
			fatal("relay unreachable: %v", err)
		}
		fmt.Println("OK")
		return
	}

	if *interactive {
		runInteractive(ctx, relay)
		return
	}

	p := payload.Payload{
		Text:      *text,
		Timestamp: time.Now().UnixMilli(),
	}

	if *image != "" {
		dataURL, err := payload.EncodeImageFile(*image)
		if err != nil {
			fatal("%v", err)
		}
		p.Image = dataURL
	}

	if p.Empty() {
		// No flags: read text from stdin, the pipe-friendly default.
		stat, _ := os.Stdin.Stat()
		if stat != nil && stat.Mode()&os.ModeCharDevice != 0 {
			flag.Usage()
			os.Exit(2)
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal("read stdin: %v", err)
		}
		p.Text = strings.TrimRight(string(data), "\n")
		if p.Empty() {
			fatal("nothing to upload")
		}
	}

	if err := relay.Upload(ctx, p); err != nil {
		fatal("upload failed: %v", err)
	}
	fmt.Println("uploaded")
}

func runInteractive(ctx context.Context, relay *client.Client) {
	rl, err := readline.New("teleprompt> ")
	if err != nil {
		fatal("readline: %v", err)
	}
	defer rl.Close()

	fmt.Println("Each line is uploaded as a payload. Ctrl-D to quit.")
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p := payload.Payload{Text: line, Timestamp: time.Now().UnixMilli()}
		if err := relay.Upload(ctx, p); err != nil {
			fmt.Fprintln(os.Stderr, "upload failed:", err)
			continue
		}
		fmt.Println("uploaded")
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

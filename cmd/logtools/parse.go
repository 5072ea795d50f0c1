package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"logtools/internal/export"
	"logtools/internal/logging"
	"logtools/internal/parser"
	"logtools/internal/tailer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type parseOptions struct {
	parser       string
	noDate       bool
	level        string
	topic        string
	output       string
	compress     bool
	skipUnparsed bool
}

func newParseCommand() *cobra.Command {
	opts := &parseOptions{}
	cmd := &cobra.Command{
		Use:   "parse [files...]",
		Short: "Parse log files (or stdin) into JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.parser, "parser", "raw", "line parser to use")
	f.BoolVar(&opts.noDate, "no-date", false, "skip timestamp parsing")
	f.StringVar(&opts.level, "level", "", "minimum level to keep (e.g. info or INF)")
	f.StringVar(&opts.topic, "topic", "", "keep only lines carrying this topic")
	f.StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	f.BoolVar(&opts.compress, "zstd", false, "zstd-compress the output")
	f.BoolVar(&opts.skipUnparsed, "skip-unparsed", true, "silently drop lines that do not parse")
	return cmd
}

func runParse(cmd *cobra.Command, opts *parseOptions, files []string) error {
	p, err := parser.Get(opts.parser)
	if err != nil {
		return err
	}
	if opts.noDate {
		switch v := p.(type) {
		case *parser.RawParser:
			v.ParseDatetime = false
		case *parser.VectorParser:
			v.ParseDatetime = false
		}
	}

	var minLevel *parser.LogLevel
	if opts.level != "" {
		lvl, err := parser.ParseLevel(opts.level)
		if err != nil {
			return err
		}
		minLevel = &lvl
	}

	out := cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	w, err := export.NewWriter(out, opts.compress)
	if err != nil {
		return err
	}

	keep := func(line *parser.LogLine) bool {
		if minLevel != nil && line.Level < *minLevel {
			return false
		}
		return opts.topic == "" || line.HasTopic(opts.topic)
	}

	stderr := cmd.ErrOrStderr()
	handle := func(source, raw string, lineNo int) error {
		line := p.Parse(raw)
		if line == nil {
			if !opts.skipUnparsed {
				fmt.Fprintf(stderr, "%s:%d: not parseable: %s\n", source, lineNo, raw)
			}
			return nil
		}
		if !keep(line) {
			return nil
		}
		return w.Write(source, line)
	}

	if len(files) == 0 {
		err = parseReader(cmd.InOrStdin(), handle)
	} else {
		zl, lerr := logging.New("warn", false)
		if lerr != nil {
			return lerr
		}
		defer zl.Sync()
		for _, path := range files {
			if err = parseFile(cmd.Context(), path, handle, zl.Sugar()); err != nil {
				break
			}
		}
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseReader(r io.Reader, handle func(source, raw string, lineNo int) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		if err := handle("stdin", scanner.Text(), n); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseFile(ctx context.Context, path string, handle func(source, raw string, lineNo int) error, logger *zap.SugaredLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	if err := tailer.TailFile(ctx, path, false, lines, logger); err != nil {
		return err
	}
	n := 0
	for raw := range lines {
		n++
		if err := handle(path, raw, n); err != nil {
			cancel()
			for range lines {
			}
			return err
		}
	}
	return nil
}

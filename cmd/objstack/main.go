// objstack is a command-line client for remote object stores. The backend is
// selected with --url or a profile from --config.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"objstack/pkg/client"
	"objstack/pkg/config"
	"objstack/pkg/store"
	"objstack/pkg/store/factory"
	"objstack/pkg/stream"
)

var flagURL = &cli.StringFlag{
	Name:    "url",
	Usage:   "Backend URL, e.g. s3://bucket, file:///var/objects, memory://",
	EnvVars: []string{"OBJSTACK_URL"},
}
var flagConfig = &cli.StringFlag{
	Name:    "config",
	Usage:   "Path to a YAML profile file",
	EnvVars: []string{"OBJSTACK_CONFIG"},
}
var flagProfile = &cli.StringFlag{
	Name:  "profile",
	Usage: "Profile name from the config file",
}
var flagVerbose = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable debug logging",
}

func main() {
	app := &cli.App{
		Name:  "objstack",
		Usage: "interact with remote object stores",
		Flags: []cli.Flag{
			flagURL,
			flagConfig,
			flagProfile,
			flagVerbose,
		},
		Commands: []*cli.Command{
			getCommand,
			putCommand,
			headCommand,
			lsCommand,
			rmCommand,
			cpCommand,
			mvCommand,
			signCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*client.Client, error) {
	level := slog.LevelInfo
	if cCtx.Bool(flagVerbose.Name) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	url := cCtx.String(flagURL.Name)
	options := map[string]string{}
	if path := cCtx.String(flagConfig.Name); path != "" && url == "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		profile, err := f.Resolve(cCtx.String(flagProfile.Name))
		if err != nil {
			return nil, err
		}
		url = profile.URL
		options = profile.Options
	}
	if url == "" {
		return nil, fmt.Errorf("no backend: pass --url or --config")
	}
	backend, err := factory.Open(cCtx.Context, url, factory.Options{Config: options, Logger: logger})
	if err != nil {
		return nil, err
	}
	return client.New(backend, client.WithLogger(logger)), nil
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "download an object to stdout or a file",
	ArgsUsage: "<path> [dest]",
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() < 1 {
			return fmt.Errorf("usage: get <path> [dest]")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		res, err := c.Get(cCtx.Context, cCtx.Args().Get(0), nil)
		if err != nil {
			return err
		}
		body, err := res.Stream(0)
		if err != nil {
			return err
		}
		out := io.Writer(os.Stdout)
		if dest := cCtx.Args().Get(1); dest != "" {
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return copyStream(cCtx.Context, out, body)
	},
}

func copyStream(ctx context.Context, w io.Writer, body *stream.ByteStream) error {
	for {
		chunk, err := body.Next(ctx)
		if err == stream.ErrExhausted {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}

var putCommand = &cli.Command{
	Name:      "put",
	Usage:     "upload a file (or stdin) to an object",
	ArgsUsage: "<path> [src]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "create", Usage: "fail if the object already exists"},
		&cli.StringFlag{Name: "content-type", Usage: "set the Content-Type attribute"},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() < 1 {
			return fmt.Errorf("usage: put <path> [src]")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		src := io.Reader(os.Stdin)
		if name := cCtx.Args().Get(1); name != "" {
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}
		cfg := client.PutConfig{}
		if cCtx.Bool("create") {
			cfg.Mode = store.ModeCreate
		}
		if ct := cCtx.String("content-type"); ct != "" {
			cfg.Attributes = store.Attributes{store.AttrContentType: ct}
		}
		res, err := c.Put(cCtx.Context, cCtx.Args().Get(0), src, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "stored %s etag=%s\n", cCtx.Args().Get(0), res.ETag)
		return nil
	},
}

var headCommand = &cli.Command{
	Name:      "head",
	Usage:     "print object metadata",
	ArgsUsage: "<path>",
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 1 {
			return fmt.Errorf("usage: head <path>")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		meta, err := c.Head(cCtx.Context, cCtx.Args().Get(0))
		if err != nil {
			return err
		}
		fmt.Printf("path:          %s\n", meta.Path)
		fmt.Printf("size:          %d\n", meta.Size)
		fmt.Printf("last-modified: %s\n", meta.LastModified.Format(time.RFC3339))
		fmt.Printf("etag:          %s\n", meta.ETag)
		if meta.Version != "" {
			fmt.Printf("version:       %s\n", meta.Version)
		}
		return nil
	},
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list objects under a prefix",
	ArgsUsage: "[prefix]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "dirs", Usage: "group one level deep like a directory listing"},
		&cli.StringFlag{Name: "offset", Usage: "resume listing strictly after this path"},
	},
	Action: func(cCtx *cli.Context) error {
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		prefix := cCtx.Args().Get(0)
		if cCtx.Bool("dirs") {
			res, err := c.ListWithDelimiter(cCtx.Context, prefix)
			if err != nil {
				return err
			}
			for _, p := range res.CommonPrefixes {
				fmt.Printf("%12s  %s/\n", "", p)
			}
			for _, m := range res.Objects {
				fmt.Printf("%12d  %s\n", m.Size, m.Path)
			}
			return nil
		}
		listing := c.List(prefix, cCtx.String("offset"))
		for {
			page, err := listing.Next(cCtx.Context)
			if err == stream.ErrExhausted {
				return nil
			}
			if err != nil {
				return err
			}
			for _, m := range page {
				fmt.Printf("%12d  %s\n", m.Size, m.Path)
			}
		}
	},
}

var rmCommand = &cli.Command{
	Name:      "rm",
	Usage:     "delete objects",
	ArgsUsage: "<path>...",
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() < 1 {
			return fmt.Errorf("usage: rm <path>...")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		return c.DeleteMany(cCtx.Context, cCtx.Args().Slice())
	},
}

var cpCommand = &cli.Command{
	Name:      "cp",
	Usage:     "copy an object within the backend",
	ArgsUsage: "<from> <to>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "no-clobber", Usage: "fail if the destination exists"},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 2 {
			return fmt.Errorf("usage: cp <from> <to>")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		from, to := cCtx.Args().Get(0), cCtx.Args().Get(1)
		if cCtx.Bool("no-clobber") {
			return c.CopyIfNotExists(cCtx.Context, from, to)
		}
		return c.Copy(cCtx.Context, from, to)
	},
}

var mvCommand = &cli.Command{
	Name:      "mv",
	Usage:     "move an object within the backend",
	ArgsUsage: "<from> <to>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "no-clobber", Usage: "fail if the destination exists"},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 2 {
			return fmt.Errorf("usage: mv <from> <to>")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		from, to := cCtx.Args().Get(0), cCtx.Args().Get(1)
		if cCtx.Bool("no-clobber") {
			return c.RenameIfNotExists(cCtx.Context, from, to)
		}
		return c.Rename(cCtx.Context, from, to)
	},
}

var signCommand = &cli.Command{
	Name:      "sign",
	Usage:     "print a presigned URL for an object",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "method", Value: "GET", Usage: "HTTP method to sign"},
		&cli.DurationFlag{Name: "expires", Value: 15 * time.Minute, Usage: "signature lifetime"},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 1 {
			return fmt.Errorf("usage: sign <path>")
		}
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		url, err := c.SignURL(cCtx.Context, cCtx.String("method"), cCtx.Args().Get(0), cCtx.Duration("expires"))
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

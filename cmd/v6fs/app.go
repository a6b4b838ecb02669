package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dargueta/v6fs"
	"github.com/dargueta/v6fs/file_systems/unixv6"
	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "v6fs",
		Usage: "Create, inspect, and modify Unix v6 file system images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path to the disk image",
				EnvVars:  []string{"V6FS_IMAGE"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "read-only",
				Aliases: []string{"r"},
				Usage:   "mount the image read-only",
				EnvVars: []string{"V6FS_READ_ONLY"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debugging information",
			},
		},
		Before: setUpLogging,
		Commands: []*cli.Command{
			{
				Name:      "mkfs",
				Usage:     "Create or wipe an image",
				ArgsUsage: "INODES BLOCKS",
				Action:    formatImage,
			},
			{
				Name:   "psb",
				Usage:  "Print the superblock",
				Action: printSuperblock,
			},
			{
				Name:   "lsall",
				Usage:  "List every file and directory in the image",
				Action: listAll,
			},
			{
				Name:  "scan",
				Usage: "List all allocated inodes",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "print as CSV"},
				},
				Action: scanInodes,
			},
			{
				Name:      "istat",
				Usage:     "Print an inode, given its number",
				ArgsUsage: "INUMBER",
				Action:    printInodeByNumber,
			},
			{
				Name:      "inode",
				Usage:     "Print the inode number of a path",
				ArgsUsage: "PATH",
				Action:    printInodeNumber,
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of a file",
				ArgsUsage: "PATH",
				Action:    catFile,
			},
			{
				Name:      "sha",
				Usage:     "Print the SHA-256 digest of a file's contents",
				ArgsUsage: "PATH",
				Action:    hashFile,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "PATH",
				Action:    makeDirectory,
			},
			{
				Name:      "add",
				Usage:     "Copy a file from the host into the image",
				ArgsUsage: "SOURCE DESTINATION",
				Action:    addFile,
			},
		},
	}
}

func setUpLogging(ctx *cli.Context) error {
	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}

	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		}),
	))
	return nil
}

func requireArgs(ctx *cli.Context, count int) error {
	if ctx.NArg() != count {
		return v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%s: expected %d argument(s) (%s), got %d",
				ctx.Command.Name,
				count,
				ctx.Command.ArgsUsage,
				ctx.NArg()))
	}
	return nil
}

// withMountedImage mounts the image named on the command line, runs `action`,
// and unmounts it again.
func withMountedImage(ctx *cli.Context, action func(fs *unixv6.FileSystem) error) error {
	fs, err := unixv6.Mount(
		ctx.String("image"),
		unixv6.MountOptions{
			ReadOnly: ctx.Bool("read-only"),
			Logger:   slog.Default(),
		})
	if err != nil {
		return err
	}

	var result error
	if err = action(fs); err != nil {
		result = multierror.Append(result, err)
	}
	if err = fs.Unmount(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func formatImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}

	inodes, err := strconv.ParseUint(ctx.Args().Get(0), 10, 16)
	if err != nil {
		return v6fs.ErrInvalidArgument.WithMessage("bad inode count").Wrap(err)
	}
	blocks, err := strconv.ParseUint(ctx.Args().Get(1), 10, 16)
	if err != nil {
		return v6fs.ErrInvalidArgument.WithMessage("bad block count").Wrap(err)
	}

	return unixv6.Format(
		ctx.String("image"),
		unixv6.FormatOptions{
			TotalBlocks: uint(blocks),
			TotalInodes: uint(inodes),
			Logger:      slog.Default(),
		})
}

func printSuperblock(ctx *cli.Context) error {
	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		_, err := fmt.Fprintln(ctx.App.Writer, fs.Superblock.String())
		return err
	})
}

func listAll(ctx *cli.Context) error {
	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		return fs.Walk(
			unixv6.RootInumber,
			func(path string, inumber unixv6.Inumber, inode *unixv6.Inode) error {
				kind := "FIL"
				if inode.IsDir() {
					kind = "DIR"
				}
				_, err := fmt.Fprintf(ctx.App.Writer, "%s %s\n", kind, path)
				return err
			})
	})
}

func scanInodes(ctx *cli.Context) error {
	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		summaries, err := fs.ScanInodes()
		if err != nil {
			return err
		}

		if ctx.Bool("csv") {
			return gocsv.Marshal(summaries, ctx.App.Writer)
		}

		for _, summary := range summaries {
			_, err = fmt.Fprintf(
				ctx.App.Writer,
				"Inode %5d (%s) len %7d mode %s\n",
				summary.Inumber,
				summary.Type,
				summary.Size,
				summary.Mode)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func printInodeByNumber(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	inumber, err := strconv.ParseUint(ctx.Args().First(), 10, 16)
	if err != nil {
		return v6fs.ErrInvalidArgument.WithMessage("bad inode number").Wrap(err)
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		inode, err := fs.ReadInode(unixv6.Inumber(inumber))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(ctx.App.Writer, inode.String())
		return err
	})
}

func printInodeNumber(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		inumber, err := fs.Lookup(unixv6.RootInumber, ctx.Args().First())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(ctx.App.Writer, "inode: %d\n", inumber)
		return err
	})
}

// readFileAt looks up a path and reads the whole file.
func readFileAt(fs *unixv6.FileSystem, path string) ([]byte, error) {
	inumber, err := fs.Lookup(unixv6.RootInumber, path)
	if err != nil {
		return nil, err
	}

	file, err := fs.OpenFile(inumber)
	if err != nil {
		return nil, err
	}
	if inode := file.Inode(); inode.IsDir() {
		return nil, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is a directory", path))
	}
	return file.ReadAll()
}

func catFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		contents, err := readFileAt(fs, ctx.Args().First())
		if err != nil {
			return err
		}
		_, err = ctx.App.Writer.Write(contents)
		return err
	})
}

func hashFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		contents, err := readFileAt(fs, ctx.Args().First())
		if err != nil {
			return err
		}
		digest := sha256.Sum256(contents)
		_, err = fmt.Fprintf(ctx.App.Writer, "%s  %s\n", hex.EncodeToString(digest[:]), ctx.Args().First())
		return err
	})
}

func makeDirectory(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		inumber, err := fs.Mkdir(ctx.Args().First())
		if err == nil {
			slog.Debug("created directory", "path", ctx.Args().First(), "inumber", inumber)
		}
		return err
	})
}

func addFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}

	contents, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return v6fs.ErrIOFailed.Wrap(err)
	}

	return withMountedImage(ctx, func(fs *unixv6.FileSystem) error {
		_, err := fs.AddFile(ctx.Args().Get(1), contents)
		return err
	})
}

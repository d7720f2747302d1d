package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestExtensions = map[string]bool{".txt": true, ".md": true}

func newIngestCommand(root *rootOptions) *cobra.Command {
	var whole bool

	cmd := &cobra.Command{
		Use:     "ingest [file or directory...]",
		Short:   "Sanitize documents and add them to the knowledge base",
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, log, err := openContainer(ctx, root)
			if err != nil {
				return err
			}
			defer func() {
				_ = c.Close(ctx)
				_ = log.Sync()
			}()

			files, err := collectFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no .txt or .md files found")
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}

				var ids []string
				if whole {
					var id string
					id, err = c.Engine.AddDocument(ctx, string(data))
					ids = []string{id}
				} else {
					ids, err = c.Engine.Ingest(ctx, string(data))
				}
				if err != nil {
					log.Warn("skip document", zap.String("path", path), zap.Error(err))
					fmt.Fprintf(out, "skipped %s: %v\n", path, err)
					continue
				}

				total += len(ids)
				fmt.Fprintf(out, "stored %d chunk(s) from %s\n", len(ids), path)
			}

			count, err := c.Engine.KnowledgeCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ingested %d chunk(s); knowledge base now holds %d\n", total, count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&whole, "whole", false, "store each file as a single chunk instead of splitting on blank lines")
	return cmd
}

// collectFiles 展开目录，只保留文本文件，结果按路径排序。
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

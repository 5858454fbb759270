package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

func insertCmd(open Opener) *cobra.Command {
	var (
		urls   []string
		s3Keys []string
	)
	cmd := &cobra.Command{
		Use:   "insert [FILE...]",
		Short: "Ingest documents",
		Long:  "Ingest local files, web pages (--url) and S3 objects (--s3-key). Documents seen before are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			type input struct {
				kind loader.SourceKind
				path string
			}
			var inputs []input
			for _, a := range args {
				inputs = append(inputs, input{loader.SourceFile, a})
			}
			for _, u := range urls {
				inputs = append(inputs, input{loader.SourceURL, u})
			}
			for _, k := range s3Keys {
				inputs = append(inputs, input{loader.SourceS3, k})
			}
			if len(inputs) == 0 {
				return fmt.Errorf("nothing to insert: pass files, --url or --s3-key")
			}

			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				reports := make([]rag.InsertReport, 0, len(inputs))
				for _, in := range inputs {
					text, err := rt.Loaders.Load(ctx, in.kind, in.path)
					if err != nil {
						return fmt.Errorf("load %s: %w", in.path, err)
					}
					report, err := rt.Engine.Insert(ctx, text)
					if err != nil {
						return fmt.Errorf("insert %s: %w", in.path, err)
					}
					reports = append(reports, report)
					if !jsonOutput(cmd) {
						printReport(cmd, in.path, report)
					}
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), reports)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&urls, "url", nil, "Web page to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&s3Keys, "s3-key", nil, "S3 object key to ingest (repeatable)")
	return cmd
}

func printReport(cmd *cobra.Command, path string, r rag.InsertReport) {
	out := cmd.OutOrStdout()
	if r.Skipped {
		fmt.Fprintf(out, "%s: already ingested (%s)\n", path, r.DocumentID)
		return
	}
	fmt.Fprintf(out, "%s: %s chunks=%d new=%d entities=%d relations=%d\n",
		path, r.DocumentID, r.Chunks, r.NewChunks, r.Entities, r.Relations)
	if len(r.DegradedChunks) > 0 {
		fmt.Fprintf(out, "  %d chunks failed extraction, insert again to retry\n", len(r.DegradedChunks))
	}
}

func queryCmd(open Opener) *cobra.Command {
	var (
		mode         string
		topK         int
		responseType string
		onlyContext  bool
		onlyPrompt   bool
	)
	cmd := &cobra.Command{
		Use:   "query QUESTION",
		Short: "Answer a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := common.ParseQueryMode(mode)
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				answer, err := rt.Engine.Query(ctx, args[0], common.QueryParam{
					Mode:            m,
					TopK:            topK,
					ResponseType:    responseType,
					OnlyNeedContext: onlyContext,
					OnlyNeedPrompt:  onlyPrompt,
				})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), map[string]string{"mode": string(m), "response": answer})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(common.ModeHybrid), "Retrieval mode: naive, local, global or hybrid")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of vector hits to retrieve (0 uses the default)")
	cmd.Flags().StringVar(&responseType, "response-type", "", "Answer shape, for example \"Bullet Points\"")
	cmd.Flags().BoolVar(&onlyContext, "only-context", false, "Print the retrieved context instead of an answer")
	cmd.Flags().BoolVar(&onlyPrompt, "only-prompt", false, "Print the system prompt instead of an answer")
	return cmd
}

func deleteEntityCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-entity NAME",
		Short: "Delete an entity and its relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if err := rt.Engine.DeleteEntity(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", common.NormalizeName(args[0]))
				return nil
			})
		},
	}
}

func statsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store sizes and vector drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				stats, err := rt.Engine.GetStatistics(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "documents\t%d\n", stats.Documents)
				fmt.Fprintf(w, "chunks\t%d\n", stats.Chunks)
				fmt.Fprintf(w, "nodes\t%d\n", stats.Nodes)
				fmt.Fprintf(w, "edges\t%d\n", stats.Edges)
				for _, ns := range []string{"entities", "relations", "chunks"} {
					fmt.Fprintf(w, "vectors/%s\t%d\n", ns, stats.Vectors[ns])
				}
				for _, d := range stats.Drift {
					fmt.Fprintf(w, "drift/%s\t%d vectors, %d expected\n", d.Namespace, d.Vectors, d.Expected)
				}
				return w.Flush()
			})
		},
	}
}

func nodesCmd(open Opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List graph entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				nodes, err := rt.Engine.GetAllNodes(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), nodes)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTYPE\tSOURCES")
				for _, n := range nodes {
					fmt.Fprintf(w, "%s\t%s\t%d\n", n.Name, n.Type, len(n.SourceChunkIDs))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of nodes (0 for all)")
	return cmd
}

func edgesCmd(open Opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List graph relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				edges, err := rt.Engine.GetAllEdges(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), edges)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SOURCE\tTARGET\tWEIGHT")
				for _, e := range edges {
					fmt.Fprintf(w, "%s\t%s\t%g\n", e.Source, e.Target, e.Strength)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of edges (0 for all)")
	return cmd
}

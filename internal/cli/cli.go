// Package cli implements the medrag command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

// Engine is the part of *rag.Engine the commands use.
type Engine interface {
	Insert(ctx context.Context, text string) (rag.InsertReport, error)
	Query(ctx context.Context, question string, p common.QueryParam) (string, error)
	DeleteEntity(ctx context.Context, name string) error
	GetStatistics(ctx context.Context) (rag.Statistics, error)
	GetAllNodes(ctx context.Context, limit int) ([]common.Entity, error)
	GetAllEdges(ctx context.Context, limit int) ([]common.Relation, error)
}

// Runtime is what a command works against. Close is called once the
// command finishes.
type Runtime struct {
	Engine  Engine
	Loaders loader.Set
	Close   func(ctx context.Context) error
}

// Opener creates the Runtime lazily so that --help never touches the stores.
type Opener func(ctx context.Context) (*Runtime, error)

func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "medrag",
		Short:         "Medical knowledge graph RAG",
		Long:          "Ingest documents into a knowledge graph and answer questions against it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("output", "o", "text", "Output format (text or json)")

	root.AddCommand(insertCmd(open))
	root.AddCommand(queryCmd(open))
	root.AddCommand(deleteEntityCmd(open))
	root.AddCommand(statsCmd(open))
	root.AddCommand(nodesCmd(open))
	root.AddCommand(edgesCmd(open))
	return root
}

// withRuntime opens the runtime, runs fn and closes it, keeping the first
// error.
func withRuntime(cmd *cobra.Command, open Opener, fn func(ctx context.Context, rt *Runtime) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rt.Close == nil {
			return
		}
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, rt)
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

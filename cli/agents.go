// Tool catalog for the tools command.
//
// Information Hiding:
// - Built-in and MCP tool assembly hidden

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/travel"
)

// ListTools prints the built-in travel tools followed by any tools served
// by the configured MCP servers.
func ListTools(ctx context.Context, opts Options) error {
	e, err := setup(opts)
	if err != nil {
		return err
	}

	set, err := e.openMCP(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	registry, skipped, err := toolRegistry(travel.All(), set.Tools())
	if err != nil {
		return err
	}
	for _, name := range skipped {
		e.log.Warn("mcp tool shadowed by built-in tool", "tool", name)
	}

	printTools(e.out, registry.List(), e.opts.Verbose)
	return nil
}

// toolRegistry registers base tools, then remote tools whose names are not
// already taken. It returns the names that were skipped.
func toolRegistry(base, remote []tools.Tool) (*tools.Registry, []string, error) {
	registry, err := tools.NewRegistryWith(base...)
	if err != nil {
		return nil, nil, err
	}
	var skipped []string
	for _, t := range remote {
		name := t.Metadata().Name
		if registry.Has(name) {
			skipped = append(skipped, name)
			continue
		}
		if err := registry.Register(t); err != nil {
			return nil, nil, err
		}
	}
	return registry, skipped, nil
}

func printTools(w io.Writer, list []tools.ToolMetadata, verbose bool) {
	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)

	for _, meta := range list {
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(w, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
}

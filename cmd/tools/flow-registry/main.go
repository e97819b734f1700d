// cmd/tools/flow-registry/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"dinein-commerce/pkg/registry"
)

const defaultPath = "configs/flows.json"

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	listPath := listCmd.String("path", defaultPath, "Path to registry file")

	showPath := showCmd.String("path", defaultPath, "Path to registry file")
	flowID := showCmd.String("flow", "", "Flow ID (e.g., flow.cust.bar_menu.v1)")
	asJSON := showCmd.Bool("json", false, "Print the flow as JSON")

	validatePath := validateCmd.String("path", defaultPath, "Path to registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		reg := load(*listPath)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FLOW\tAUDIENCE\tENTRY\tSCREENS\tACTIONS")
		for _, f := range reg.Flows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", f.ID, f.Audience, f.EntryScreen, len(f.Screens), len(f.Actions))
		}
		w.Flush()

	case "show":
		showCmd.Parse(os.Args[2:])
		if *flowID == "" {
			fmt.Println("Error: flow is required for show.")
			showCmd.Usage()
			os.Exit(1)
		}
		reg := load(*showPath)
		flow, ok := reg.Flow(*flowID)
		if !ok {
			fmt.Printf("Flow %s not found\n", *flowID)
			os.Exit(1)
		}
		if *asJSON {
			out, _ := json.MarshalIndent(flow, "", "  ")
			fmt.Println(string(out))
			return
		}
		printFlow(flow)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg := load(*validatePath)
		if err := reg.Validate(); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed (%d flows).\n", len(reg.Flows))

	case "help":
		fallthrough
	default:
		help()
	}
}

func load(path string) *registry.FlowRegistry {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		fmt.Printf("Failed to load registry: %v\n", err)
		os.Exit(1)
	}
	return reg
}

func printFlow(f *registry.Flow) {
	fmt.Printf("%s (%s)\n", f.ID, f.Audience)
	if f.Description != "" {
		fmt.Printf("  %s\n", f.Description)
	}
	fmt.Printf("  entry:   %s\n", f.EntryScreen)
	fmt.Printf("  screens: %s\n", strings.Join(f.Screens, ", "))
	fmt.Println("  actions:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, a := range f.Actions {
		mutating := ""
		if a.Mutating {
			mutating = "mutating"
		}
		schema := ""
		if a.FieldsSchema != nil {
			schema = "schema"
		}
		fmt.Fprintf(w, "    %s\t-> %s\t%s\t%s\n", a.ID, strings.Join(a.NextScreens, "|"), mutating, schema)
	}
	w.Flush()
}

func help() {
	fmt.Println("Usage: flow-registry <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  list      List flows in the registry")
	fmt.Println("  show      Print one flow with its actions")
	fmt.Println("  validate  Validate the registry file")
	fmt.Println("  help      Show this help message")
}

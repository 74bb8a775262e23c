package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/palisade-io/palisade/internal/isolation"
)

// runCheck validates a YAML file of isolation policy definitions without
// touching the metadata store. With -namespace it also reports which group
// would govern that namespace and, given -brokers, the primary/secondary
// split.
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the policy definitions file (group name -> definition)")
	namespace := fs.String("namespace", "", "Optional namespace to resolve against the definitions")
	brokers := fs.String("brokers", "", "Optional comma-separated broker addresses to classify")

	fs.Usage = func() {
		fmt.Println(`Usage: palisaded check -file <definitions.yaml> [options]

Validate isolation policy definitions offline: pattern compilation and
auto-failover parameters are checked the same way the server checks them.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *filePath == "" {
		fs.Usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *filePath, err)
		os.Exit(1)
	}

	var defs map[string]isolation.Data
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", *filePath, err)
		os.Exit(1)
	}
	if len(defs) == 0 {
		fmt.Fprintln(os.Stderr, "no policy definitions found")
		os.Exit(1)
	}

	groups := make([]string, 0, len(defs))
	for g := range defs {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	compiled := make(map[string]*isolation.Policy, len(defs))
	failed := false
	for _, group := range groups {
		policy, err := isolation.NewPolicy(defs[group])
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", group, err)
			failed = true
			continue
		}
		compiled[group] = policy
		fmt.Printf("OK   %s: %s\n", group, policy)
	}
	if failed {
		os.Exit(1)
	}

	if *namespace != "" {
		resolveNamespace(compiled, groups, *namespace, *brokers)
	}
}

func resolveNamespace(compiled map[string]*isolation.Policy, groups []string, namespace, brokers string) {
	var governing string
	for _, g := range groups {
		if compiled[g].MatchesNamespace(namespace) {
			governing = g
			break
		}
	}
	if governing == "" {
		fmt.Printf("\nnamespace %q is not governed by any group\n", namespace)
		return
	}
	fmt.Printf("\nnamespace %q is governed by group %q\n", namespace, governing)

	if brokers == "" {
		return
	}
	addresses := strings.Split(brokers, ",")
	for i := range addresses {
		addresses[i] = strings.TrimSpace(addresses[i])
	}

	policy := compiled[governing]
	primary, err := policy.FindPrimaryBrokers(addresses, namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "primary lookup failed: %v\n", err)
		os.Exit(1)
	}
	secondary, err := policy.FindSecondaryBrokers(addresses, namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secondary lookup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("primary brokers:   %v\n", primary)
	fmt.Printf("secondary brokers: %v\n", secondary)
}

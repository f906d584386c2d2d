//go:build ignore

// Package main generates a synthetic knowledge base for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -articles 5000 -output testdata/bench/articles.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numArticles = flag.Int("articles", 1000, "Number of articles to generate")
	output      = flag.String("output", "testdata/bench/articles.jsonl", "Output JSONL file")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	categories = []string{"account", "devices", "network", "billing", "security", "apps"}
	subjects   = []string{"android device", "windows pc", "kiosk mode", "vpn client", "password", "invoice", "mdm agent", "app store", "wifi profile", "single sign on"}
	actions    = []string{"set up", "reset", "troubleshoot", "configure", "remove", "update", "enroll", "lock"}
	fillers    = []string{
		"Open the admin console and select the device group.",
		"Changes apply the next time the device checks in.",
		"If the option is greyed out, ask your administrator for access.",
		"Restart the device after the policy is pushed.",
		"You can verify the result from the activity log.",
		"This setting is available on all paid plans.",
	}
)

type article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Category string `json:"category"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < *numArticles; i++ {
		subject := subjects[rng.Intn(len(subjects))]
		action := actions[rng.Intn(len(actions))]

		var body strings.Builder
		fmt.Fprintf(&body, "How to %s the %s.", action, subject)
		for j := 0; j < 3+rng.Intn(6); j++ {
			body.WriteString(" ")
			body.WriteString(fillers[rng.Intn(len(fillers))])
		}

		a := article{
			URL:      fmt.Sprintf("https://help.example.com/articles/%d-%s-%s", i, strings.ReplaceAll(action, " ", "-"), strings.ReplaceAll(subject, " ", "-")),
			Title:    fmt.Sprintf("%s the %s", strings.ToUpper(action[:1])+action[1:], subject),
			Content:  body.String(),
			Source:   "generated",
			Category: categories[rng.Intn(len(categories))],
		}
		if err := enc.Encode(a); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d articles in %s\n", *numArticles, *output)
}

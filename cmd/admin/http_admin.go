package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/runtime"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	do(http.MethodGet, *baseURL, "/admin/v1/state", nil, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	do(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 10*time.Second)
}

func airdropCmd(args []string) {
	fs := flag.NewFlagSet("airdrop", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	to := fs.String("to", "", "recipient key or name (required)")
	amount := fs.Uint64("amount", 0, "lamports to credit (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*to) == "" || *amount == 0 {
		fmt.Fprintln(os.Stderr, "missing -to or -amount")
		os.Exit(2)
	}
	body := map[string]any{"args": runtime.AirdropArgs{To: ledger.ParseOrNamed(*to), Amount: *amount}}
	do(http.MethodPost, *baseURL, "/admin/v1/airdrop", body, 5*time.Second)
}

// mintCmd creates an asset class if needed and mints to a holder, the
// setup a token-gated board needs.
func mintCmd(args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	class := fs.String("class", "", "asset class key or name (required)")
	authority := fs.String("authority", "", "mint authority key or name (required; pays for records)")
	to := fs.String("to", "", "holder key or name (required)")
	amount := fs.Uint64("amount", 1, "amount to mint")
	create := fs.Bool("create", false, "create the class first")
	_ = fs.Parse(args)

	if strings.TrimSpace(*class) == "" || strings.TrimSpace(*authority) == "" || strings.TrimSpace(*to) == "" {
		fmt.Fprintln(os.Stderr, "missing -class, -authority or -to")
		os.Exit(2)
	}
	classKey, authKey := ledger.ParseOrNamed(*class), ledger.ParseOrNamed(*authority)
	if *create {
		do(http.MethodPost, *baseURL, "/admin/v1/assets/class", map[string]any{
			"signer": authKey.String(),
			"args":   runtime.AssetClassArgs{Class: classKey, Authority: authKey},
		}, 5*time.Second)
	}
	do(http.MethodPost, *baseURL, "/admin/v1/assets/mint", map[string]any{
		"signer": authKey.String(),
		"args":   runtime.AssetMintArgs{Class: classKey, Authority: authKey, To: ledger.ParseOrNamed(*to), Amount: *amount},
	}, 5*time.Second)
}

func do(method, baseURL, path string, body any, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, u, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

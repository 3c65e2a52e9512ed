// Command observer-token mints an observer credential for local use.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/auth"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/config"
)

func main() {
	sub := flag.String("sub", "", "subject (manager identifier)")
	role := flag.String("role", auth.RoleManager, "role claim: manager or admin")
	ttl := flag.Duration("ttl", time.Hour, "credential lifetime")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "usage: observer-token -sub <subject> [-role manager|admin] [-ttl 1h]")
		os.Exit(2)
	}
	cfg := config.Load()
	tok, err := auth.Issue(cfg.ObserverJWTSecret, *sub, *role, *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "observer-token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	dedup "github.com/mattkeenan/dedup/pkg"
)

// promptStaleCache asks the operator whether an old cache should still be
// trusted. The core only signals the staleness condition; the decision is
// made here. An empty answer exits the program.
func promptStaleCache(age time.Duration) dedup.StaleCacheDecision {
	fmt.Printf("Cache is %s old\n", age.Round(time.Second))

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Use old cache yes/no? ")
		answer, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			fmt.Println("exit")
			os.Exit(0)
		}

		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "no", "n":
			fmt.Println()
			return dedup.DiscardCache
		case "yes", "y":
			return dedup.KeepCache
		case "":
			fmt.Println("exit")
			os.Exit(0)
		default:
			fmt.Printf("Unknown answer %q\n", answer)
		}
	}
}

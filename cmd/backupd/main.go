// backupd runs the backup commands on a schedule. Each argument is a
// shell command line; they run sequentially per tick so the archives and
// extract directories are never written concurrently.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/go-co-op/gocron"
)

func main() {
	var (
		schedule = flag.String("schedule", "17 3 * * *", "cron schedule")
		timeout  = flag.Duration("timeout", 6*time.Hour, "per-tick time limit")
		now      = flag.Bool("now", false, "run once immediately, then follow the schedule")
	)
	flag.Parse()

	commands := flag.Args()
	if len(commands) == 0 {
		log.Fatal("No commands given")
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		for _, command := range commands {
			log.Printf("Running: %s", command)
			cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			start := time.Now()
			if err := cmd.Run(); err != nil {
				log.Printf("Command failed after %v: %v", time.Since(start).Round(time.Second), err)
				continue
			}
			log.Printf("Finished in %v", time.Since(start).Round(time.Second))
		}
	}

	if *now {
		run()
	}
	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Cron(*schedule).Do(run); err != nil {
		log.Fatalf("Invalid schedule %q: %v", *schedule, err)
	}
	log.Printf("Scheduled %d commands at %q", len(commands), *schedule)
	scheduler.StartBlocking()
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/database/migrations"
	"ms-boxoffice/internal/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: migrate [-dir DIR] up | down [N] | version | force N\n")
	os.Exit(2)
}

func main() {
	cfg := config.Load()
	dir := flag.String("dir", cfg.Database.MigrationsDir, "migrations directory")
	flag.Parse()

	log, err := logger.NewLogger(logger.Options{Level: logger.ParseLevel(cfg.Log.Level)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	runner := migrations.NewRunner(cfg.Database.DSN, migrations.Options{Dir: *dir}, log)
	defer runner.Close()

	switch args[0] {
	case "up":
		err = runner.Up()
	case "down":
		steps := 0
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil {
				usage()
			}
		}
		err = runner.Down(steps)
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		}
	case "force":
		if len(args) < 2 {
			usage()
		}
		v, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			usage()
		}
		err = runner.Force(v)
	default:
		usage()
	}

	if err != nil {
		log.Error("DATABASE", err.Error())
		os.Exit(1)
	}
	log.Info("DATABASE", fmt.Sprintf("migrate %s done", args[0]))
}
